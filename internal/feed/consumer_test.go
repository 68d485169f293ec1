package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/atmx/quote-engine/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// batchJSON builds a priceUpdate message from symbol=price pairs.
func batchJSON(pairs ...string) []byte {
	var b strings.Builder
	b.WriteString(`{"type":"priceUpdate","prices":[`)
	for i, p := range pairs {
		sym, price, _ := strings.Cut(p, "=")
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"symbol":%q,"price":%s,"changePct":0.5}`, sym, price)
	}
	b.WriteString("]}")
	return []byte(b.String())
}

func newTestConsumer(opts ...Option) *Consumer {
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return NewConsumer(nil, opts...)
}

func TestConsumer_EmptyBeforeFirstBatch(t *testing.T) {
	c := newTestConsumer()

	snap := c.CurrentSnapshot()
	if snap.Seq != 0 || len(snap.Quotes) != 0 || snap.Quotes == nil {
		t.Errorf("expected empty non-nil snapshot, got %+v", snap)
	}
}

func TestConsumer_SnapshotFollowsRegistryOrder(t *testing.T) {
	c := newTestConsumer()
	log := quietLogger()

	c.handle(log, batchJSON("AAPL=150", "TSLA=250"))
	c.handle(log, batchJSON("MSFT=380", "TSLA=251", "AAPL=151"))

	snap := c.CurrentSnapshot()
	if got, want := snap.Symbols(), []string{"AAPL", "TSLA", "MSFT"}; !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if snap.Seq != 2 {
		t.Errorf("expected seq 2, got %d", snap.Seq)
	}
	q, _ := snap.Lookup("AAPL")
	if !q.Price.Equal(decimal.NewFromInt(151)) {
		t.Errorf("expected AAPL 151, got %s", q.Price)
	}
	if len(q.History) != 2 {
		t.Errorf("expected 2 history points, got %d", len(q.History))
	}
}

func TestConsumer_OmitsSymbolsMissingFromBatch(t *testing.T) {
	c := newTestConsumer()
	log := quietLogger()

	c.handle(log, batchJSON("AAPL=150", "TSLA=250", "MSFT=380"))
	c.handle(log, batchJSON("MSFT=381", "AAPL=149"))

	snap := c.CurrentSnapshot()
	if got, want := snap.Symbols(), []string{"AAPL", "MSFT"}; !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got, want := c.SymbolOrder(), []string{"AAPL", "TSLA", "MSFT"}; !slices.Equal(got, want) {
		t.Errorf("registry must keep omitted symbols: expected %v, got %v", want, got)
	}
}

func TestConsumer_KeepsMetadataAcrossBatches(t *testing.T) {
	c := newTestConsumer()
	log := quietLogger()

	c.handle(log, []byte(`{"type":"priceUpdate","prices":[{"symbol":"AAPL","price":150,"displayName":"Apple Inc.","logoUrl":"https://logo/aapl"}]}`))
	c.handle(log, batchJSON("AAPL=151"))

	q, ok := c.CurrentSnapshot().Lookup("AAPL")
	if !ok {
		t.Fatal("expected AAPL in snapshot")
	}
	if q.DisplayName != "Apple Inc." || q.LogoURL != "https://logo/aapl" {
		t.Errorf("metadata lost: %+v", q)
	}
}

func TestConsumer_MalformedBatchLeavesSnapshot(t *testing.T) {
	c := newTestConsumer()
	log := quietLogger()

	c.handle(log, batchJSON("AAPL=150", "TSLA=250"))
	before := c.CurrentSnapshot()

	c.handle(log, []byte(`{"type":"priceUpdate","prices":[{"symbol":"AAPL","price":151},{"symbol":"TSLA","price":-1}]}`))
	c.handle(log, []byte(`not json`))

	after := c.CurrentSnapshot()
	if after.Seq != before.Seq {
		t.Errorf("expected seq %d unchanged, got %d", before.Seq, after.Seq)
	}
	q, _ := after.Lookup("AAPL")
	if !q.Price.Equal(decimal.NewFromInt(150)) || len(q.History) != 1 {
		t.Errorf("malformed batch was partially applied: %+v", q)
	}
	if got := c.Stats().Dropped; got != 2 {
		t.Errorf("expected 2 dropped batches, got %d", got)
	}

	c.handle(log, batchJSON("AAPL=152"))
	if got := c.CurrentSnapshot().Seq; got != before.Seq+1 {
		t.Errorf("expected seq %d after next valid batch, got %d", before.Seq+1, got)
	}
}

func TestConsumer_IgnoresOtherMessageTypes(t *testing.T) {
	c := newTestConsumer()
	log := quietLogger()

	c.handle(log, batchJSON("AAPL=150"))
	c.handle(log, []byte(`{"type":"orderUpdate","order":{}}`))

	if got := c.CurrentSnapshot().Seq; got != 1 {
		t.Errorf("expected seq 1, got %d", got)
	}
	if s := c.Stats(); s.Ignored != 1 || s.Dropped != 0 {
		t.Errorf("expected 1 ignored and 0 dropped, got %+v", s)
	}
}

func TestConsumer_SnapshotIsCopy(t *testing.T) {
	c := newTestConsumer()
	c.handle(quietLogger(), batchJSON("AAPL=150"))

	snap := c.CurrentSnapshot()
	snap.Quotes[0].Price = decimal.NewFromInt(1)
	snap.Quotes[0].History[0] = decimal.NewFromInt(1)

	q, _ := c.CurrentSnapshot().Lookup("AAPL")
	if !q.Price.Equal(decimal.NewFromInt(150)) || !q.History[0].Equal(decimal.NewFromInt(150)) {
		t.Error("mutating a returned snapshot changed published state")
	}
}

func TestConsumer_HistoryBounded(t *testing.T) {
	c := newTestConsumer(WithHistorySize(3))
	log := quietLogger()

	for i := 1; i <= 5; i++ {
		c.handle(log, batchJSON(fmt.Sprintf("AAPL=%d", 100+i)))
	}

	q, _ := c.CurrentSnapshot().Lookup("AAPL")
	if len(q.History) != 3 {
		t.Fatalf("expected 3 history points, got %d", len(q.History))
	}
	if !q.History[0].Equal(decimal.NewFromInt(103)) || !q.History[2].Equal(decimal.NewFromInt(105)) {
		t.Errorf("unexpected history %v", q.History)
	}
}

func TestConsumer_ApplyTwiceIsIdempotent(t *testing.T) {
	symbols := []string{"AAPL", "TSLA", "AMZN", "GOOGL", "MSFT"}

	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.SliceOfN(rapid.SliceOfNDistinct(rapid.SampledFrom(symbols), 1, 5, rapid.ID[string]), 0, 4).Draw(t, "prefix")
		last := rapid.SliceOfNDistinct(rapid.SampledFrom(symbols), 1, 5, rapid.ID[string]).Draw(t, "last")
		price := rapid.IntRange(1, 1000).Draw(t, "price")

		c := newTestConsumer()
		log := quietLogger()
		for _, b := range prefix {
			c.handle(log, batchJSON(pairs(b, 10)...))
		}
		msg := batchJSON(pairs(last, price)...)

		c.handle(log, msg)
		once := c.CurrentSnapshot()
		c.handle(log, msg)
		twice := c.CurrentSnapshot()

		if len(once.Quotes) != len(twice.Quotes) {
			t.Fatalf("expected %d quotes, got %d", len(once.Quotes), len(twice.Quotes))
		}
		for i := range once.Quotes {
			a, b := once.Quotes[i], twice.Quotes[i]
			if a.Symbol != b.Symbol || !a.Price.Equal(b.Price) || !a.ChangePct.Equal(b.ChangePct) {
				t.Fatalf("index %d: %+v != %+v", i, a, b)
			}
		}
		if twice.Seq != once.Seq+1 {
			t.Fatalf("expected seq %d after a repeated batch, got %d", once.Seq+1, twice.Seq)
		}
	})
}

func pairs(symbols []string, price int) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = fmt.Sprintf("%s=%d", s, price)
	}
	return out
}

func TestConsumer_Seed(t *testing.T) {
	c := newTestConsumer()
	err := c.Seed([]model.Quote{
		{Symbol: "aapl", Price: decimal.NewFromInt(150), DisplayName: "Apple Inc.",
			History: []decimal.Decimal{decimal.NewFromInt(148), decimal.NewFromInt(150)}},
		{Symbol: "TSLA", Price: decimal.NewFromInt(250)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := c.CurrentSnapshot()
	if got, want := snap.Symbols(), []string{"AAPL", "TSLA"}; !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	q, _ := snap.Lookup("AAPL")
	if len(q.History) != 2 {
		t.Errorf("expected seeded history of 2 without a duplicate point, got %v", q.History)
	}
	if q.DisplayName != "Apple Inc." {
		t.Errorf("expected display name kept, got %q", q.DisplayName)
	}

	if err := c.Seed([]model.Quote{{Symbol: "BAD", Price: decimal.Zero}}); err == nil {
		t.Error("expected error for non-positive seed price")
	}
}

// --- Run loop ---

type fakeStream struct {
	frames chan []byte
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan []byte, 16)}
}

func (s *fakeStream) Read(ctx context.Context) ([]byte, error) {
	select {
	case raw, ok := <-s.frames:
		if !ok {
			return nil, io.EOF
		}
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeStream) Close() error { return nil }

// drop simulates the remote end closing the connection.
func (s *fakeStream) drop() { s.once.Do(func() { close(s.frames) }) }

type fakeSource struct {
	streams chan *fakeStream
	fail    chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{streams: make(chan *fakeStream, 4), fail: make(chan error, 4)}
}

func (s *fakeSource) Connect(ctx context.Context) (Stream, error) {
	select {
	case st := <-s.streams:
		return st, nil
	case err := <-s.fail:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConsumer_ReconnectPreservesOrderAndHistory(t *testing.T) {
	src := newFakeSource()
	c := NewConsumer(src, WithLogger(quietLogger()), WithBackoff(time.Millisecond, 5*time.Millisecond))

	first := newFakeStream()
	src.streams <- first
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	first.frames <- batchJSON("AAPL=150", "TSLA=250")
	waitFor(t, "first batch", func() bool { return c.CurrentSnapshot().Seq == 1 })

	first.drop()
	src.fail <- errors.New("connection refused")
	waitFor(t, "failed reconnect", func() bool { return c.Stats().Reconnects >= 2 })
	second := newFakeStream()
	src.streams <- second

	second.frames <- batchJSON("TSLA=251", "MSFT=380", "AAPL=151")
	waitFor(t, "batch after reconnect", func() bool { return c.CurrentSnapshot().Seq == 2 })

	snap := c.CurrentSnapshot()
	if got, want := snap.Symbols(), []string{"AAPL", "TSLA", "MSFT"}; !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	q, _ := snap.Lookup("AAPL")
	if len(q.History) != 2 {
		t.Errorf("history must survive reconnect, got %v", q.History)
	}
	if !c.Stats().Connected {
		t.Error("expected connected after reconnect")
	}
}

func TestConsumer_StopEndsLoop(t *testing.T) {
	src := newFakeSource()
	c := NewConsumer(src, WithLogger(quietLogger()))

	st := newFakeStream()
	src.streams <- st
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	st.frames <- batchJSON("AAPL=150")
	waitFor(t, "first batch", func() bool { return c.CurrentSnapshot().Seq == 1 })

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	if c.Stats().Connected {
		t.Error("expected disconnected after Stop")
	}
	if got := c.CurrentSnapshot().Seq; got != 1 {
		t.Errorf("state must survive Stop, got seq %d", got)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
	if err := c.Seed(nil); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted from Seed, got %v", err)
	}
}

func TestConsumer_SnapshotHook(t *testing.T) {
	var got []uint64
	c := newTestConsumer(WithSnapshotHook(func(s model.QuoteSnapshot) { got = append(got, s.Seq) }))
	log := quietLogger()

	c.handle(log, batchJSON("AAPL=150"))
	c.handle(log, []byte(`garbage`))
	c.handle(log, batchJSON("AAPL=151"))

	if !slices.Equal(got, []uint64{1, 2}) {
		t.Errorf("expected hooks for seq [1 2], got %v", got)
	}
}
