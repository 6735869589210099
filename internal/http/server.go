// internal/http/server.go
package http

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/aggregator"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/logger"
)

//go:embed templates/index.html
var templatesFS embed.FS

var tracer = otel.Tracer("trade-buckets/http")

// Config хранит конфигурацию HTTP-сервера.
type Config struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TradesPath      string        `mapstructure:"trades_path"`
	MetricsPath     string        `mapstructure:"metrics_path"`
	HealthzPath     string        `mapstructure:"healthz_path"`
	ReadyzPath      string        `mapstructure:"readyz_path"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

func (c *Config) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.TradesPath == "" {
		c.TradesPath = "/get_trades"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.HealthzPath == "" {
		c.HealthzPath = "/healthz"
	}
	if c.ReadyzPath == "" {
		c.ReadyzPath = "/readyz"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}

func (c Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("http: port %d out of range", c.Port)
	}
	for _, p := range []string{c.TradesPath, c.MetricsPath, c.HealthzPath, c.ReadyzPath} {
		if !strings.HasPrefix(p, "/") || p == "/" {
			return fmt.Errorf("http: invalid path %q", p)
		}
	}
	return nil
}

// Deps: зависимости обработчиков.
type Deps struct {
	Trades  TradeSource
	Sink    TradeSink // может быть nil
	Ready   ReadyChecker
	Symbols []string
}

// Server инкапсулирует дашборд, /get_trades и служебные эндпоинты.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	deps            Deps
	page            *template.Template
	pageData        pageData
	log             *logger.Logger
}

type pageData struct {
	TradesPath     string
	PollIntervalMS int64
	Symbols        []string
}

// NewServer создаёт Server на порту cfg.Port.
func NewServer(cfg Config, deps Deps, log *logger.Logger) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Trades == nil {
		return nil, errors.New("http: trade source is required")
	}
	if deps.Ready == nil {
		deps.Ready = func() error { return nil }
	}

	page, err := template.ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("http: parse templates: %w", err)
	}

	s := &Server{
		shutdownTimeout: cfg.ShutdownTimeout,
		deps:            deps,
		page:            page,
		pageData: pageData{
			TradesPath:     cfg.TradesPath,
			PollIntervalMS: cfg.PollInterval.Milliseconds(),
			Symbols:        upper(deps.Symbols),
		},
		log: log.Named("http-server"),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.routes(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) routes(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(
		Recover(s.log),
		RequestID(),
		Logging(s.log),
		CORS(cfg.CORSOrigins),
		Metrics(),
	)

	r.Get("/", s.handleIndex)
	r.Get(cfg.TradesPath, s.handleTrades)
	r.Method(http.MethodGet, cfg.MetricsPath, promhttp.Handler())
	r.Get(cfg.HealthzPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get(cfg.ReadyzPath, s.handleReady)
	return r
}

// Handler возвращает полную цепочку обработчиков.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, s.pageData); err != nil {
		s.log.WithContext(r.Context()).Error("render index failed", zap.Error(err))
	}
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "GetTrades")
	defer span.End()

	trades := s.deps.Trades.CheckAndGetTrades()
	if trades == nil {
		trades = []aggregator.EmittedTrade{}
	}
	span.SetAttributes(attribute.Int("trades.count", len(trades)))
	if s.deps.Sink != nil && len(trades) > 0 {
		s.deps.Sink.Enqueue(trades)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(trades); err != nil {
		span.RecordError(err)
		s.log.WithContext(ctx).Warn("write trades response failed",
			zap.Int("trades", len(trades)),
			zap.Error(err),
		)
	}
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Ready(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(fmt.Sprintf("NOT READY: %v", err)))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("READY"))
}

// Start запускает HTTP-сервер и блокирует до отмены ctx или фатальной ошибки запуска.
// По отмене ctx выполняется graceful shutdown с таймаутом shutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("http: starting server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("http: shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed to start: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("http: graceful shutdown failed", zap.Error(err))
		return err
	}

	s.log.Info("http: server stopped gracefully")
	return nil
}

func upper(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}
