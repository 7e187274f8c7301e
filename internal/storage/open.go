package storage

import (
	"fmt"
	"strings"

	logx "scriptwatch/pkg/logx"
)

type opener func(cfg Config, log logx.Logger) (Store, error)

var drivers = map[string]opener{
	"file":    openFile,
	"jsonl":   openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Open returns the store for cfg.Driver, or (nil, nil) when run history is
// turned off.
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" || name == "none" {
		return nil, nil
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q", name)
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("storage.path is required for the %s driver", name)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Keep <= 0 {
		cfg.Keep = defaultKeep
	}
	return open(cfg, log)
}
