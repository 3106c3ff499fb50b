package exchange

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// RESTFallbackConfig configures the bounded-retry REST poller a Supervisor
// falls back to once its streaming connection has been silent past
// SilenceTimeout. Parse extracts the last-trade
// price from one response body; the exchange-specific response shape is the
// caller's concern, not the poller's.
type RESTFallbackConfig struct {
	URL          string
	Symbol       string
	Source       string
	PollInterval time.Duration
	MaxRetries   int
	Parse        func(body []byte) (price float64, err error)
}

// DefaultRESTFallbackConfig returns a 5s poll interval with 3 retries.
func DefaultRESTFallbackConfig() RESTFallbackConfig {
	return RESTFallbackConfig{PollInterval: 5 * time.Second, MaxRetries: 3}
}

// RESTPoller polls a single REST endpoint for the latest trade price on a
// bounded-retry HTTP client, synthesizing MarketTicks while a Supervisor's
// streaming feed is silent. Adapted from NimbleMarkets-dbn-go's
// retryablehttp-backed REST client, narrowed to the one-endpoint-poll shape
// P1 needs rather than that repo's full historical-data fetch surface.
type RESTPoller struct {
	logger *zap.Logger
	config RESTFallbackConfig
	client *retryablehttp.Client
	seq    atomic.Uint64
}

// NewRESTPoller creates a poller with a bounded-retry HTTP client.
func NewRESTPoller(logger *zap.Logger, config RESTFallbackConfig) *RESTPoller {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	client := retryablehttp.NewClient()
	client.RetryMax = config.MaxRetries
	client.Logger = nil
	return &RESTPoller{logger: logger.Named("rest-fallback"), config: config, client: client}
}

// Run polls config.URL every PollInterval until ctx is cancelled, pushing a
// synthesized tick per successful poll onto out. It never blocks on out past
// ctx's lifetime.
func (r *RESTPoller) Run(ctx context.Context, out chan<- types.MarketTick) {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll(ctx, out)
		}
	}
}

func (r *RESTPoller) poll(ctx context.Context, out chan<- types.MarketTick) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, r.config.URL, nil)
	if err != nil {
		r.logger.Warn("rest fallback request build failed", zap.Error(err))
		return
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("rest fallback poll failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		r.logger.Warn("rest fallback body read failed", zap.Error(err))
		return
	}
	price, err := r.config.Parse(body)
	if err != nil {
		r.logger.Warn("rest fallback parse failed", zap.Error(err))
		return
	}

	px := decimal.NewFromFloat(price)
	tick := types.MarketTick{
		Symbol:    r.config.Symbol,
		Source:    r.config.Source,
		Sequence:  r.seq.Add(1),
		EventTime: time.Now(),
		Mid:       px,
		Bid:       px,
		Ask:       px,
		Last:      px,
		Volume:    decimal.Zero,
	}
	select {
	case out <- tick:
	case <-ctx.Done():
	}
}
