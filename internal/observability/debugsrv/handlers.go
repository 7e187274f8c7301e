package debugsrv

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	rtsup "scriptwatch/internal/runtime/supervisor"
	"scriptwatch/internal/scheduler"
)

// Handler builds the mux for cfg.
func (s *Service) Handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz(cfg.Stale))
	mux.HandleFunc("GET /status", s.status)
	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return requireToken(strings.TrimSpace(cfg.Token), mux)
}

func (s *Service) healthz(stale time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if stale > 0 && s.source != nil {
			s.mu.Lock()
			last := s.started
			s.mu.Unlock()
			if snap := s.source(); snap.LastPass != nil {
				last = snap.LastPass.FinishedAt
			}
			if age := s.now().Sub(last); age > stale {
				http.Error(w, fmt.Sprintf("stale: no pass for %s", age.Round(time.Second)), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}
}

type statusDoc struct {
	Passes   uint64                   `json:"passes"`
	LastPass *scheduler.PassReport    `json:"last_pass,omitempty"`
	Failing  []string                 `json:"failing"`
	Sleeping []scheduler.SleepingInfo `json:"sleeping"`
	Tasks    []rtsup.TaskInfo         `json:"tasks,omitempty"`
}

func (s *Service) status(w http.ResponseWriter, _ *http.Request) {
	doc := statusDoc{Failing: []string{}, Sleeping: []scheduler.SleepingInfo{}}
	if s.source != nil {
		snap := s.source()
		doc.Passes, doc.LastPass = snap.Passes, snap.LastPass
		for _, id := range snap.Failing {
			doc.Failing = append(doc.Failing, string(id))
		}
		if snap.Sleeping != nil {
			doc.Sleeping = snap.Sleeping
		}
	}
	s.mu.Lock()
	tasks := s.tasks
	s.mu.Unlock()
	if tasks != nil {
		doc.Tasks = tasks()
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(doc)
}

// requireToken accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func requireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	want := []byte(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(bearer)
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IsLoopbackAddr reports whether a host:port binds only to loopback.
func IsLoopbackAddr(addr string) bool { return isLoopbackAddr(addr) }

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
