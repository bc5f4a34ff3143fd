package risk

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"reconciler/internal/schema"
)

const maxInt64 = int64(^uint64(0) >> 1)

// Config defines simple pre-trade limits. Zero disables a limit.
type Config struct {
	KillSwitch           bool            `json:"killSwitch" yaml:"killSwitch"`
	MaxOrderQty          schema.Quantity `json:"maxOrderQty" yaml:"maxOrderQty"`
	MaxOrderNotional     schema.Notional `json:"maxOrderNotional" yaml:"maxOrderNotional"`
	MaxPosition          schema.Quantity `json:"maxPosition" yaml:"maxPosition"`
	OrderRateLimit       int             `json:"orderRateLimit" yaml:"orderRateLimit"`
	OrderRateWindow      time.Duration   `json:"orderRateWindow" yaml:"orderRateWindow"`
	MaxPriceDeviationBps int64           `json:"maxPriceDeviationBps" yaml:"maxPriceDeviationBps"`
}

// StateView provides the position and reference price the order is checked against.
type StateView struct {
	Position       schema.Quantity
	ReferencePrice schema.Price
	Now            time.Time
}

// Engine evaluates broker commands before they are sent. It is safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	e := &Engine{cfg: cfg}
	if cfg.OrderRateLimit > 0 && cfg.OrderRateWindow > 0 {
		every := cfg.OrderRateWindow / time.Duration(cfg.OrderRateLimit)
		e.limiter = rate.NewLimiter(rate.Every(every), cfg.OrderRateLimit)
	}
	return e
}

// SetKillSwitch turns the kill switch on or off.
func (e *Engine) SetKillSwitch(on bool) {
	e.mu.Lock()
	e.cfg.KillSwitch = on
	e.mu.Unlock()
}

// Check returns RiskReasonNone when the create or change order may be sent.
// A nil engine allows everything.
func (e *Engine) Check(order *schema.PhysicalOrder, view StateView) schema.RiskReason {
	if e == nil {
		return schema.RiskReasonNone
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.KillSwitch {
		return schema.RiskReasonKillSwitch
	}

	if e.cfg.MaxOrderQty > 0 && order.Size > e.cfg.MaxOrderQty {
		return schema.RiskReasonMaxQty
	}

	if e.cfg.MaxPriceDeviationBps > 0 && !order.Type.IsMarket() && order.Price > 0 {
		ref := int64(view.ReferencePrice)
		if ref > 0 {
			diff := absInt64(int64(order.Price) - ref)
			if exceedsDeviation(diff, ref, e.cfg.MaxPriceDeviationBps) {
				return schema.RiskReasonPriceBand
			}
		}
	}

	price := order.Price
	if price == 0 {
		price = view.ReferencePrice
	}
	notional, overflow := mulNotional(price, order.Size)
	if overflow {
		return schema.RiskReasonMaxNotional
	}
	if e.cfg.MaxOrderNotional > 0 && notional > e.cfg.MaxOrderNotional {
		return schema.RiskReasonMaxNotional
	}

	nextPos := view.Position + order.SignedSize()
	if e.cfg.MaxPosition > 0 && nextPos.Abs() > e.cfg.MaxPosition {
		return schema.RiskReasonPositionLimit
	}

	// the rate limit goes last so blocked orders do not consume tokens
	if e.limiter != nil {
		now := view.Now
		if now.IsZero() {
			now = time.Now()
		}
		if !e.limiter.AllowN(now, 1) {
			return schema.RiskReasonRateLimit
		}
	}
	return schema.RiskReasonNone
}

func mulNotional(price schema.Price, qty schema.Quantity) (schema.Notional, bool) {
	p := int64(price)
	q := int64(qty)
	if p == 0 || q == 0 {
		return 0, false
	}
	if p < 0 {
		p = -p
	}
	if q < 0 {
		q = -q
	}
	if p > maxInt64/q {
		return 0, true
	}
	return schema.Notional(p * q), false
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func exceedsDeviation(diff int64, ref int64, bps int64) bool {
	if diff <= 0 || ref <= 0 || bps <= 0 {
		return false
	}
	if diff > maxInt64/10000 {
		return true
	}
	lhs := diff * 10000
	if ref > maxInt64/bps {
		return true
	}
	rhs := ref * bps
	return lhs > rhs
}
