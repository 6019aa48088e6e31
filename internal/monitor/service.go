package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"trades-algo/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS engine_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	symbol TEXT NOT NULL DEFAULT '',
	strategy_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_engine_events_type ON engine_events(event_type);
CREATE INDEX IF NOT EXISTS idx_engine_events_strategy ON engine_events(strategy_id);
`

const maxQueryLimit = 1000

// EventFilter 描述事件查询条件，零值字段不参与过滤。
type EventFilter struct {
	Type       EventType
	Symbol     string
	StrategyID string
	Limit      int
}

// Service 负责持久化引擎事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化事件存储，创建所需表结构。
func NewService(ctx context.Context, st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := st.Migrate(ctx, schema); err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}

	return &Service{
		db:     st.DB(),
		logger: logger,
	}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO engine_events (event_type, symbol, strategy_id, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(event.Type), event.Symbol, event.StrategyID, string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败 type=%s: %w", event.Type, err)
	}
	return nil
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	return s.Query(ctx, EventFilter{Type: eventType, Limit: limit})
}

// Query 按过滤条件返回最近事件，新事件在前。
func (s *Service) Query(ctx context.Context, filter EventFilter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	var (
		where []string
		args  []interface{}
	)
	if filter.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, strings.ToUpper(filter.Symbol))
	}
	if filter.StrategyID != "" {
		where = append(where, "strategy_id = ?")
		args = append(args, filter.StrategyID)
	}

	query := `SELECT event_type, symbol, strategy_id, payload, created_at FROM engine_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var (
			event   Event
			typ     string
			payload string
			created string
		)
		if err := rows.Scan(&typ, &event.Symbol, &event.StrategyID, &payload, &created); err != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", err)
		}
		event.Type = EventType(typ)
		event.Payload = json.RawMessage(payload)
		if ts, parseErr := time.Parse(time.RFC3339Nano, created); parseErr == nil {
			event.Timestamp = ts
		} else {
			s.logger.Warn("事件时间戳无效", zap.String("created_at", created))
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
