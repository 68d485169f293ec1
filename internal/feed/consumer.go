package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/quote-engine/internal/metrics"
	"github.com/atmx/quote-engine/internal/model"
)

// ErrAlreadyStarted is returned by Start and Seed once the consumer runs.
var ErrAlreadyStarted = errors.New("feed: consumer already started")

const (
	defaultBackoffMin = time.Second
	defaultBackoffMax = 30 * time.Second
	backoffFactor     = 1.8
	frameBuffer       = 64
)

// Source opens connections to a quote feed.
type Source interface {
	Connect(ctx context.Context) (Stream, error)
}

// Stream is one live feed connection. Read blocks until a frame arrives,
// the connection fails or ctx is done.
type Stream interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Stats are cumulative counters of a consumer.
type Stats struct {
	Applied    uint64 `json:"applied"`
	Dropped    uint64 `json:"dropped"`
	Ignored    uint64 `json:"ignored"`
	Reconnects uint64 `json:"reconnects"`
	Connected  bool   `json:"connected"`
}

// Consumer owns one feed connection and is the single writer of the symbol
// registry and the price history. Every applied batch is published as an
// immutable snapshot; readers never block on feed I/O.
type Consumer struct {
	src        Source
	log        *slog.Logger
	registry   *Registry
	history    *History
	meta       map[string]quoteMeta
	backoffMin time.Duration
	backoffMax time.Duration
	hooks      []func(model.QuoteSnapshot)
	now        func() time.Time

	state atomic.Pointer[published]

	applied    atomic.Uint64
	dropped    atomic.Uint64
	ignored    atomic.Uint64
	reconnects atomic.Uint64
	connected  atomic.Bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type published struct {
	snapshot model.QuoteSnapshot
	order    []string
}

// quoteMeta keeps the last non-empty descriptive fields of a symbol so a
// batch that omits them does not blank them out.
type quoteMeta struct {
	displayName string
	logoURL     string
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithHistorySize sets the per-symbol price history bound.
func WithHistorySize(n int) Option {
	return func(c *Consumer) { c.history = NewHistory(n) }
}

// WithBackoff overrides the reconnect backoff bounds.
func WithBackoff(min, max time.Duration) Option {
	return func(c *Consumer) {
		if min > 0 {
			c.backoffMin = min
		}
		if max >= c.backoffMin {
			c.backoffMax = max
		}
	}
}

// WithLogger sets the consumer logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Consumer) {
		if l != nil {
			c.log = l
		}
	}
}

// WithSnapshotHook registers fn to be called with a copy of every published
// snapshot, on the consumer goroutine. fn must not block.
func WithSnapshotHook(fn func(model.QuoteSnapshot)) Option {
	return func(c *Consumer) {
		if fn != nil {
			c.hooks = append(c.hooks, fn)
		}
	}
}

// WithClock overrides time.Now for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Consumer) {
		if now != nil {
			c.now = now
		}
	}
}

// NewConsumer creates a consumer reading from src. Call Start to connect.
func NewConsumer(src Source, opts ...Option) *Consumer {
	c := &Consumer{
		src:        src,
		log:        slog.Default(),
		registry:   NewRegistry(),
		history:    NewHistory(DefaultHistorySize),
		meta:       make(map[string]quoteMeta),
		backoffMin: defaultBackoffMin,
		backoffMax: defaultBackoffMax,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(&published{
		snapshot: model.QuoteSnapshot{Quotes: []model.Quote{}},
		order:    []string{},
	})
	return c
}

// Start launches the read loop. It returns immediately; the loop runs until
// ctx is canceled or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
	return nil
}

// Stop cancels the read loop and waits for it to exit. Registry and history
// state accumulated so far stay intact.
func (c *Consumer) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-c.done
}

// Seed applies a point-in-time quote list as if it were a feed batch.
// Quote histories, if present, prime the history buffer.
// It must be called before Start.
func (c *Consumer) Seed(quotes []model.Quote) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	if len(quotes) == 0 {
		return nil
	}

	batch := &Batch{Prices: make([]PriceUpdate, 0, len(quotes))}
	for i, q := range quotes {
		price, change := q.Price, q.ChangePct
		p, err := wirePrice{
			Symbol:      q.Symbol,
			Price:       &price,
			ChangePct:   &change,
			LogoURL:     q.LogoURL,
			DisplayName: q.DisplayName,
		}.normalize()
		if err != nil {
			return &DecodeError{Reason: fmt.Sprintf("seed quote %d", i), Err: err}
		}
		batch.Prices = append(batch.Prices, p)
	}

	c.registry.Register(batch.Symbols())
	for i, p := range batch.Prices {
		hist := quotes[i].History
		for _, h := range hist {
			c.history.Push(p.Symbol, h)
		}
		if len(hist) == 0 || !hist[len(hist)-1].Equal(p.Price) {
			c.history.Push(p.Symbol, p.Price)
		}
	}
	c.publish(batch)
	return nil
}

// CurrentSnapshot returns a copy of the latest applied snapshot, or an empty
// snapshot before the first batch.
func (c *Consumer) CurrentSnapshot() model.QuoteSnapshot {
	return c.state.Load().snapshot.Clone()
}

// SymbolOrder returns the registry order as of the latest applied batch.
func (c *Consumer) SymbolOrder() []string {
	order := c.state.Load().order
	out := make([]string, len(order))
	copy(out, order)
	return out
}

// Stats returns the consumer counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Applied:    c.applied.Load(),
		Dropped:    c.dropped.Load(),
		Ignored:    c.ignored.Load(),
		Reconnects: c.reconnects.Load(),
		Connected:  c.connected.Load(),
	}
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	backoff := c.backoffMin
	for {
		established, err := c.session(ctx)
		c.connected.Store(false)
		metrics.FeedConnected.Set(0)

		if ctx.Err() != nil {
			c.log.Info("quote feed stopped")
			return
		}
		if established {
			backoff = c.backoffMin
		}

		c.reconnects.Add(1)
		metrics.FeedReconnectsTotal.Inc()
		c.log.Warn("quote feed disconnected, retrying", "err", err, "backoff", backoff.String())

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			c.log.Info("quote feed stopped")
			return
		}
		backoff = time.Duration(math.Min(float64(c.backoffMax), float64(backoff)*backoffFactor))
	}
}

// session runs one connection until it fails or ctx is done. The transport
// reader only moves raw frames into a channel; decoding and state changes
// happen on this goroutine.
func (c *Consumer) session(ctx context.Context) (bool, error) {
	stream, err := c.src.Connect(ctx)
	if err != nil {
		return false, &ConnectionError{Op: "connect", Err: err}
	}
	defer stream.Close()

	log := c.log.With("conn_id", uuid.NewString())
	c.connected.Store(true)
	metrics.FeedConnected.Set(1)
	log.Info("quote feed connected")

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan []byte, frameBuffer)
	errc := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			raw, err := stream.Read(sessCtx)
			if err != nil {
				errc <- err
				return
			}
			select {
			case frames <- raw:
			case <-sessCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case raw, ok := <-frames:
			if !ok {
				select {
				case err := <-errc:
					return true, &ConnectionError{Op: "read", Err: err}
				default:
					return true, &ConnectionError{Op: "read", Err: io.EOF}
				}
			}
			c.handle(log, raw)
		}
	}
}

func (c *Consumer) handle(log *slog.Logger, raw []byte) {
	batch, err := Decode(raw)
	if err != nil {
		c.dropped.Add(1)
		metrics.FeedBatchesTotal.WithLabelValues("dropped").Inc()
		log.Warn("dropping malformed quote batch", "err", err, "bytes", len(raw))
		return
	}
	if batch == nil {
		c.ignored.Add(1)
		metrics.FeedBatchesTotal.WithLabelValues("ignored").Inc()
		return
	}
	c.apply(batch)
}

// apply folds a decoded batch into the registry and history and publishes
// the resulting snapshot.
func (c *Consumer) apply(batch *Batch) {
	c.registry.Register(batch.Symbols())
	for _, p := range batch.Prices {
		c.history.Push(p.Symbol, p.Price)
	}
	c.publish(batch)
}

func (c *Consumer) publish(batch *Batch) {
	bySymbol := make(map[string]PriceUpdate, len(batch.Prices))
	for _, p := range batch.Prices {
		bySymbol[p.Symbol] = p
		m := c.meta[p.Symbol]
		if p.DisplayName != "" {
			m.displayName = p.DisplayName
		}
		if p.LogoURL != "" {
			m.logoURL = p.LogoURL
		}
		c.meta[p.Symbol] = m
	}

	order := c.registry.Order()
	quotes := make([]model.Quote, 0, len(batch.Prices))
	for _, symbol := range order {
		p, ok := bySymbol[symbol]
		if !ok {
			continue
		}
		m := c.meta[symbol]
		quotes = append(quotes, model.Quote{
			Symbol:      symbol,
			Price:       p.Price,
			ChangePct:   p.ChangePct,
			DisplayName: m.displayName,
			LogoURL:     m.logoURL,
			History:     c.history.Snapshot(symbol),
		})
	}

	prev := c.state.Load()
	snap := model.QuoteSnapshot{
		Seq:       prev.snapshot.Seq + 1,
		UpdatedAt: c.now().UTC(),
		Quotes:    quotes,
	}
	c.state.Store(&published{snapshot: snap, order: order})

	c.applied.Add(1)
	metrics.FeedBatchesTotal.WithLabelValues("applied").Inc()
	metrics.TrackedSymbols.Set(float64(len(order)))
	metrics.SnapshotSymbols.Set(float64(len(quotes)))

	for _, hook := range c.hooks {
		hook(snap.Clone())
	}
}
