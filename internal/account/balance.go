package account

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type balanceClient interface {
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
}

// quoteAssets 为计价资产的查找顺序。
var quoteAssets = []string{"USDT", "USDC", "USD"}

// Balance 描述账户权益。
type Balance struct {
	Asset      string          `json:"asset"`
	Total      decimal.Decimal `json:"total"`
	Free       decimal.Decimal `json:"free"`
	Used       decimal.Decimal `json:"used"`
	Unrealized decimal.Decimal `json:"unrealized"`
	Simulated  bool            `json:"simulated"`
	Timestamp  time.Time       `json:"timestamp"`
}

func (b Balance) String() string {
	label := ""
	if b.Simulated {
		label = " (模拟)"
	}
	return fmt.Sprintf("%s total=%s free=%s used=%s unrealized=%s%s",
		b.Asset, b.Total.StringFixed(2), b.Free.StringFixed(2), b.Used.StringFixed(2), b.Unrealized.StringFixed(2), label)
}

// Manager 查询账户余额。client 为空时返回固定的模拟余额。
type Manager struct {
	client balanceClient
	demo   decimal.Decimal
	logger *zap.Logger
}

// NewManager 创建实盘余额查询器。
func NewManager(client balanceClient, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{client: client, logger: logger}
}

// NewSimulated 创建返回固定余额的查询器。
func NewSimulated(total decimal.Decimal) *Manager {
	return &Manager{demo: total, logger: zap.NewNop()}
}

// FetchBalance 获取账户余额。
func (m *Manager) FetchBalance(ctx context.Context) (Balance, error) {
	now := time.Now().UTC()
	if m.client == nil {
		return Balance{
			Asset:      quoteAssets[0],
			Total:      m.demo,
			Free:       m.demo,
			Used:       decimal.Zero,
			Unrealized: decimal.Zero,
			Simulated:  true,
			Timestamp:  now,
		}, nil
	}

	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}

	balances, err := m.client.FetchBalance()
	if err != nil {
		return Balance{}, fmt.Errorf("account: 获取账户余额失败: %w", err)
	}

	balance := Balance{Timestamp: now}
	for _, code := range quoteAssets {
		total, ok := balances.Total[code]
		if !ok || total == nil {
			continue
		}
		balance.Asset = code
		balance.Total = decimal.NewFromFloat(*total)
		if free, ok := balances.Free[code]; ok && free != nil {
			balance.Free = decimal.NewFromFloat(*free)
		}
		if used, ok := balances.Used[code]; ok && used != nil {
			balance.Used = decimal.NewFromFloat(*used)
		}
		break
	}
	if balance.Asset == "" {
		m.logger.Warn("账户中未找到计价资产余额", zap.Strings("assets", quoteAssets))
		balance.Asset = quoteAssets[0]
	}

	if balances.Info != nil {
		balance.Unrealized = decimal.NewFromFloat(parseNumeric(balances.Info["totalUnrealizedProfit"]))
		if balance.Free.IsZero() {
			if v := parseNumeric(balances.Info["availableBalance"]); v > 0 {
				balance.Free = decimal.NewFromFloat(v)
			}
		}
	}
	return balance, nil
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case *float64:
		if v != nil {
			return *v
		}
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}
