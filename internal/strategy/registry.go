package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trades-algo/internal/exchange"
	"trades-algo/internal/metrics"
)

// Registry 保存运行中与已结束的策略，并周期回收终态条目。
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Strategy
	seq     atomic.Uint64

	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// NewRegistry 创建注册表。ttl 为终态条目的保留时长。
func NewRegistry(ttl, interval time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Registry{
		entries:  make(map[string]Strategy),
		ttl:      ttl,
		interval: interval,
		logger:   logger,
	}
}

// NewID 生成形如 grid-BTCUSDT-7-1a2b3c4d 的唯一 ID。
func (r *Registry) NewID(kind Kind, symbol string) string {
	n := r.seq.Add(1)
	return fmt.Sprintf("%s-%s-%d-%s", kind, exchange.NormalizeSymbol(symbol), n, uuid.NewString()[:8])
}

// Put 登记策略，ID 重复时返回错误。
func (r *Registry) Put(s Strategy) error {
	id := s.Summary().ID

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return &InternalError{Op: "registry.put", Cause: fmt.Errorf("重复的策略 ID %s", id)}
	}
	r.entries[id] = s
	metrics.RegistrySize.Set(float64(len(r.entries)))
	return nil
}

// Get 按 ID 查询策略。
func (r *Registry) Get(id string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.entries[id]
	if !ok {
		return nil, notFound(id)
	}
	return s, nil
}

// List 返回按创建时间排序的摘要，kind 为空时返回全部。
func (r *Registry) List(kind Kind) []Summary {
	r.mu.RLock()
	summaries := make([]Summary, 0, len(r.entries))
	for _, s := range r.entries {
		summary := s.Summary()
		if kind != "" && summary.Kind != kind {
			continue
		}
		summaries = append(summaries, summary)
	}
	r.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

// Len 返回当前条目数。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Evict 移除一个终态策略。
func (r *Registry) Evict(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.entries[id]
	if !ok {
		return notFound(id)
	}
	if !s.Summary().Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrNotTerminal, id)
	}
	delete(r.entries, id)
	metrics.RegistrySize.Set(float64(len(r.entries)))
	return nil
}

// Reap 移除终态且最后更新早于 now-ttl 的条目，返回移除数量。
func (r *Registry) Reap(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.entries {
		summary := s.Summary()
		if !summary.Status.Terminal() {
			continue
		}
		if now.Sub(summary.UpdatedAt) < r.ttl {
			continue
		}
		delete(r.entries, id)
		removed++
	}
	metrics.RegistrySize.Set(float64(len(r.entries)))
	return removed
}

// Run 周期执行 Reap，直到 ctx 结束。
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if removed := r.Reap(now.UTC()); removed > 0 {
				r.logger.Info("已回收终态策略",
					zap.Int("removed", removed),
					zap.Int("remaining", r.Len()),
				)
			}
		}
	}
}
