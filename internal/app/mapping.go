package app

import (
	"scriptwatch/internal/config"
	"scriptwatch/internal/notifier"
	"scriptwatch/internal/scheduler"
	"scriptwatch/internal/storage"
	kit "scriptwatch/internal/transport"
	logx "scriptwatch/pkg/logx"
)

func mapLogging(r *config.Resolved) logx.Config {
	return logx.Config{
		Level:   r.Logging.Level,
		Console: r.Logging.Console,
		File: logx.FileConfig{
			Enabled: r.Logging.File.Enabled,
			Path:    r.Logging.File.Path,
		},
	}
}

func mapStorage(r *config.Resolved) storage.Config {
	return storage.Config{
		Driver:      r.StorageDriver,
		Path:        r.StoragePath,
		BusyTimeout: r.StorageBusyTimeout,
		Keep:        r.StorageKeep,
	}
}

func mapNotifier(r *config.Resolved) notifier.Config {
	return notifier.Config{
		Workers:       r.NotifyWorkers,
		QueueSize:     r.QueueSize,
		RatePerSec:    r.RatePerSec,
		RetryMax:      r.RetryMax,
		RetryBase:     r.RetryBase,
		RetryMaxDelay: r.RetryMaxDelay,
		Target:        kit.ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID},
		Options:       kit.SendOptions{DisablePreview: true},
	}
}

func mapScheduler(r *config.Resolved) scheduler.Config {
	return scheduler.Config{
		MinPassGap: r.MinPassGap,
		MaxSleep:   r.MaxSleep,
		Workers:    r.ScriptWorkers,
	}
}
