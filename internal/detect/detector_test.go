package detect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu    sync.Mutex
	ready bool
}

func (f *fakeProber) SubmitReady(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready, nil
}

func (f *fakeProber) setReady(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = v
}

type fakeActivity struct {
	ch chan int
}

func newFakeActivity() *fakeActivity {
	return &fakeActivity{ch: make(chan int, 16)}
}

func (f *fakeActivity) Observe(context.Context) <-chan int {
	return f.ch
}

func testConfig() Config {
	return Config{
		PollInterval:       5 * time.Millisecond,
		EdgeSettle:         10 * time.Millisecond,
		ActivitySettle:     10 * time.Millisecond,
		ActivityThreshold:  10,
		PrimaryTimeout:     150 * time.Millisecond,
		PrimaryTimeoutLast: 80 * time.Millisecond,
		FallbackTimeout:    300 * time.Millisecond,
		CeilingTimeout:     600 * time.Millisecond,
	}
}

func TestEdgeReenableWins(t *testing.T) {
	prober := &fakeProber{ready: false}
	d := New(prober, newFakeActivity(), testConfig())

	go func() {
		time.Sleep(30 * time.Millisecond)
		prober.setReady(true)
	}()

	start := time.Now()
	reason := d.Wait(context.Background(), false)

	require.Equal(t, ReasonEdge, reason)
	require.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestEdgeRequiresObservedDisable(t *testing.T) {
	// A control that was usable the whole time never produces an edge;
	// with no activity either, the primary timer declares completion.
	prober := &fakeProber{ready: true}
	d := New(prober, newFakeActivity(), testConfig())

	reason := d.Wait(context.Background(), false)
	require.Equal(t, ReasonPrimary, reason)
}

func TestActivityPathWins(t *testing.T) {
	prober := &fakeProber{ready: true}
	activity := newFakeActivity()
	d := New(prober, activity, testConfig())

	activity.ch <- 3 // below threshold, ignored
	activity.ch <- 40

	start := time.Now()
	reason := d.Wait(context.Background(), false)

	require.Equal(t, ReasonActivity, reason)
	require.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestPrimaryTimeoutShorterForLastItem(t *testing.T) {
	prober := &fakeProber{ready: false}
	d := New(prober, newFakeActivity(), testConfig())

	start := time.Now()
	reason := d.Wait(context.Background(), true)

	require.Equal(t, ReasonPrimary, reason)
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	require.Less(t, elapsed, 150*time.Millisecond)
}

func TestFallbackWhenHostVisiblyWorking(t *testing.T) {
	// Mutations crossed the threshold but the submit control never
	// came back: the primary timer defers and the fallback resolves.
	prober := &fakeProber{ready: false}
	activity := newFakeActivity()
	d := New(prober, activity, testConfig())

	activity.ch <- 40

	start := time.Now()
	reason := d.Wait(context.Background(), false)

	require.Equal(t, ReasonFallback, reason)
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestCeilingAlwaysResolves(t *testing.T) {
	// Activity arrives only after the fallback timer already expired
	// quietly; the ceiling is the absolute bound.
	prober := &fakeProber{ready: false}
	activity := newFakeActivity()
	cfg := testConfig()
	cfg.FallbackTimeout = time.Millisecond
	cfg.CeilingTimeout = 250 * time.Millisecond
	d := New(prober, activity, cfg)

	go func() {
		time.Sleep(30 * time.Millisecond)
		activity.ch <- 40
	}()

	start := time.Now()
	reason := d.Wait(context.Background(), false)

	require.Equal(t, ReasonCeiling, reason)
	require.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
	require.Less(t, time.Since(start), 600*time.Millisecond)
}

func TestCancelledContext(t *testing.T) {
	prober := &fakeProber{ready: false}
	d := New(prober, newFakeActivity(), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	reason := d.Wait(ctx, false)
	require.Equal(t, ReasonCancelled, reason)
}

func TestNilActivitySignal(t *testing.T) {
	// The detector works without a mutation probe wired in.
	prober := &fakeProber{ready: false}
	d := New(prober, nil, testConfig())

	go func() {
		time.Sleep(30 * time.Millisecond)
		prober.setReady(true)
	}()

	require.Equal(t, ReasonEdge, d.Wait(context.Background(), false))
}
