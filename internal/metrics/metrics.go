package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"greenthumb/pkg/logx"
)

var (
	TriggerFires = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenthumb_trigger_fires_total",
		Help: "Daily trigger fires executed by the schedule registry.",
	})
	RemindersSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenthumb_reminders_sent_total",
		Help: "Reminder emails successfully handed to the mail transport.",
	})
	RemindersFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenthumb_reminders_failed_total",
		Help: "Reminder emails that failed to send.",
	})
	Reconciles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenthumb_reconciles_total",
		Help: "Schedule reconciliation passes, including skipped ones.",
	})
	InvalidRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenthumb_invalid_records_total",
		Help: "Plant records skipped because their dates could not be parsed.",
	})
)

// Config controls the optional metrics HTTP listener.
//
// Prefer binding to localhost; the endpoint carries no auth.
type Config struct {
	Enabled bool
	Addr    string // default "127.0.0.1:9090"
}

// Server exposes /metrics. Start/Stop are idempotent.
type Server struct {
	cfg Config
	log logx.Logger
	srv *http.Server
}

func NewServer(cfg Config, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:9090"
	}
	return &Server{cfg: cfg, log: log}
}

func (s *Server) Start() {
	if !s.cfg.Enabled || s.srv != nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.srv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server failed", logx.Err(err))
		}
	}()
	s.log.Info("metrics listening", logx.String("addr", s.cfg.Addr))
}

func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	_ = s.srv.Shutdown(ctx)
	s.srv = nil
}
