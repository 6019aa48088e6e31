package exchange

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// QuoteSnapshot 为一组交易对在同一时刻的最新价。
type QuoteSnapshot struct {
	Prices      map[string]decimal.Decimal `json:"prices"`
	RetrievedAt time.Time                  `json:"retrieved_at"`
}

// Symbols 按字母序返回快照内的交易对。
func (s QuoteSnapshot) Symbols() []string {
	symbols := make([]string, 0, len(s.Prices))
	for symbol := range s.Prices {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// QuoteService 并发拉取多个交易对的最新价。
type QuoteService struct {
	gateway  Gateway
	logger   *zap.Logger
	parallel int
}

// NewQuoteService 创建行情服务。
func NewQuoteService(gateway Gateway, logger *zap.Logger) *QuoteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuoteService{
		gateway:  gateway,
		logger:   logger,
		parallel: 4,
	}
}

// GetSnapshot 拉取给定交易对的最新价，任一失败即返回错误。
func (s *QuoteService) GetSnapshot(ctx context.Context, symbols []string) (QuoteSnapshot, error) {
	var (
		mu     sync.Mutex
		prices = make(map[string]decimal.Decimal, len(symbols))
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.parallel)

	for _, symbol := range symbols {
		symbol := NormalizeSymbol(symbol)
		if symbol == "" {
			continue
		}
		group.Go(func() error {
			price, err := s.gateway.GetPrice(groupCtx, symbol)
			if err != nil {
				return err
			}
			mu.Lock()
			prices[symbol] = price
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return QuoteSnapshot{}, err
	}

	snapshot := QuoteSnapshot{
		Prices:      prices,
		RetrievedAt: time.Now().UTC(),
	}

	s.logger.Debug("行情快照获取完成",
		zap.Int("symbols", len(snapshot.Prices)),
		zap.Time("retrieved_at", snapshot.RetrievedAt),
	)

	return snapshot, nil
}
