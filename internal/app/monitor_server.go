package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"trades-algo/internal/exchange"
	"trades-algo/internal/metrics"
	"trades-algo/internal/monitor"
	"trades-algo/internal/strategy"
)

type eventLister interface {
	Query(ctx context.Context, filter monitor.EventFilter) ([]monitor.Event, error)
}

type monitorServer struct {
	events eventLister
	engine *strategy.Engine
	quotes *exchange.QuoteService
	logger *zap.Logger
}

func newMonitorRouter(srv *monitorServer) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", srv.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/events", srv.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/strategies", srv.handleStrategies).Methods(http.MethodGet)
	r.HandleFunc("/strategies/{id}", srv.handleStrategy).Methods(http.MethodGet)
	r.HandleFunc("/strategies/{id}/events", srv.handleStrategyEvents).Methods(http.MethodGet)
	r.HandleFunc("/strategies/{id}/cancel", srv.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/prices", srv.handlePrices).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

// runMonitorServer 阻塞运行监控接口，ctx 结束时优雅关闭。
func runMonitorServer(ctx context.Context, srv *monitorServer, port int, origins []string) error {
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:              addr,
		Handler:           c.Handler(newMonitorRouter(srv)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	srv.logger.Info("监控接口已启动", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: 监控服务异常: %w", err)
	}
	return nil
}

func (s *monitorServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"strategies": s.engine.Registry().Len(),
	})
}

func (s *monitorServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := monitor.EventFilter{
		Symbol:     strings.TrimSpace(q.Get("symbol")),
		StrategyID: strings.TrimSpace(q.Get("strategy")),
		Limit:      parseLimit(q.Get("limit")),
	}
	if typ := strings.TrimSpace(q.Get("type")); typ != "" {
		filter.Type = monitor.EventType(strings.ToLower(typ))
	}
	s.listEvents(w, r, filter)
}

func (s *monitorServer) handleStrategyEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.engine.Registry().Get(id); err != nil {
		s.respondError(w, statusFor(err), err)
		return
	}
	s.listEvents(w, r, monitor.EventFilter{StrategyID: id, Limit: parseLimit(r.URL.Query().Get("limit"))})
}

func (s *monitorServer) listEvents(w http.ResponseWriter, r *http.Request, filter monitor.EventFilter) {
	events, err := s.events.Query(r.Context(), filter)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, events)
}

func parseLimit(raw string) int {
	limit := 200
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		limit = v
	}
	return limit
}

func (s *monitorServer) handleStrategies(w http.ResponseWriter, r *http.Request) {
	kind := strategy.Kind(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("kind"))))
	s.respondJSON(w, http.StatusOK, s.engine.Registry().List(kind))
}

func (s *monitorServer) handleStrategy(w http.ResponseWriter, r *http.Request) {
	entry, err := s.engine.Registry().Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, statusFor(err), err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"summary": entry.Summary(),
		"detail":  entry.Detail(),
	})
}

func (s *monitorServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.Cancel(r.Context(), id); err != nil {
		s.respondError(w, statusFor(err), err)
		return
	}
	entry, err := s.engine.Registry().Get(id)
	if err != nil {
		s.respondError(w, statusFor(err), err)
		return
	}
	s.respondJSON(w, http.StatusOK, entry.Summary())
}

func (s *monitorServer) handlePrices(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("symbols"))
	if raw == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("symbols 参数不能为空"))
		return
	}
	snapshot, err := s.quotes.GetSnapshot(r.Context(), strings.Split(raw, ","))
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err)
		return
	}
	s.respondJSON(w, http.StatusOK, snapshot)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, strategy.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, strategy.ErrUnsupportedKind):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (s *monitorServer) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("写入监控响应失败", zap.Error(err))
	}
}

func (s *monitorServer) respondError(w http.ResponseWriter, status int, err error) {
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}
