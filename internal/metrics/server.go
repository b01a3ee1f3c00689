package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "dripbot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:9464"

// Check reports one dependency's health; nil means healthy.
type Check func(ctx context.Context) error

type Server struct {
	log    logx.Logger
	reg    *prometheus.Registry
	checks map[string]Check
	pprof  bool

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func NewServer(reg *prometheus.Registry, checks map[string]Check, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	cp := make(map[string]Check, len(checks))
	for k, v := range checks {
		if v != nil {
			cp[k] = v
		}
	}
	return &Server{log: log.With(logx.String("comp", "metrics")), reg: reg, checks: cp}
}

// EnablePprof mounts the runtime profiles under /debug/pprof/. Call it
// before Start.
func (s *Server) EnablePprof() { s.pprof = true }

// Handler serves /metrics and /healthz, plus /debug/pprof/ when enabled.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{Registry: s.reg}))
	mux.HandleFunc("/healthz", s.health)
	if s.pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return mux
}

type healthReply struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for n := range s.checks {
		names = append(names, n)
	}
	sort.Strings(names)

	out := healthReply{Status: "ok", Checks: map[string]string{}}
	code := http.StatusOK
	for _, n := range names {
		if err := s.checks[n](ctx); err != nil {
			out.Checks[n] = err.Error()
			out.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		out.Checks[n] = "ok"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(out)
}

// Start binds addr and serves in the background. The bound address is
// returned so ":0" can be used in tests.
func (s *Server) Start(addr string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return s.ln.Addr().String(), nil
	}
	if strings.TrimSpace(addr) == "" {
		addr = DefaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.srv, s.ln = srv, ln
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server stopped", logx.Err(err))
		}
	}()
	s.log.Info("metrics listening", logx.String("addr", ln.Addr().String()))
	return ln.Addr().String(), nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
