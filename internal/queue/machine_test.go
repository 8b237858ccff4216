package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	mu       sync.Mutex
	ready    bool
	writes   []string
	clicks   int
	clickErr error
}

func (f *fakeTarget) WriteInput(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, text)
	return nil
}

func (f *fakeTarget) SubmitReady(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready, nil
}

func (f *fakeTarget) ClickSubmit(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks++
	return f.clickErr
}

func (f *fakeTarget) setReady(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = v
}

func (f *fakeTarget) clickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clicks
}

func (f *fakeTarget) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// fakeDetector blocks until release is closed (or immediately when
// auto is set), standing in for the completion heuristics.
type fakeDetector struct {
	auto    bool
	release chan struct{}
}

func newFakeDetector(auto bool) *fakeDetector {
	return &fakeDetector{auto: auto, release: make(chan struct{})}
}

func (f *fakeDetector) Wait(ctx context.Context, _ bool) {
	if f.auto {
		return
	}
	select {
	case <-f.release:
	case <-ctx.Done():
	}
}

func testConfig() Config {
	return Config{
		LocateBudget:   200 * time.Millisecond,
		LocateInterval: 10 * time.Millisecond,
		OpTimeout:      50 * time.Millisecond,
		FirstSendDelay: 10 * time.Millisecond,
		SendDelay:      10 * time.Millisecond,
		YieldDelay:     5 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEnqueueKeepsFIFOOrder(t *testing.T) {
	target := &fakeTarget{}
	cfg := testConfig()
	cfg.FirstSendDelay = time.Second // keep the machine at rest
	m := NewMachine(context.Background(), target, newFakeDetector(true), cfg)

	m.Enqueue("a")
	m.Enqueue("b")
	m.Enqueue("a") // duplicates are distinct entries
	m.Enqueue("c")

	require.Equal(t, []string{"a", "b", "a", "c"}, m.Items())
	require.Equal(t, StateIdle, m.State())
}

func TestSingleItemRoundTrip(t *testing.T) {
	// Scenario A: enqueue → Running → simulated completion → Idle, empty.
	target := &fakeTarget{ready: true}
	det := newFakeDetector(false)
	m := NewMachine(context.Background(), target, det, testConfig())

	m.Enqueue("hello")

	waitFor(t, func() bool { return m.State() == StateRunning }, "running state")
	// In-flight item stays at index 0 until confirmed.
	require.Equal(t, []string{"hello"}, m.Items())

	waitFor(t, func() bool { return target.clickCount() == 1 }, "submit click")
	close(det.release)

	waitFor(t, func() bool { return m.State() == StateIdle && len(m.Items()) == 0 }, "idle and empty")
	require.Nil(t, m.LastFailure())
}

func TestRemoveInFlightAbandonsAndResumes(t *testing.T) {
	// Scenario B: removing index 0 while Running abandons "a" and
	// auto-resumes with "b".
	target := &fakeTarget{ready: true}
	det := newFakeDetector(false)
	m := NewMachine(context.Background(), target, det, testConfig())

	m.Enqueue("a")
	m.Enqueue("b")
	waitFor(t, func() bool { return m.State() == StateRunning }, "running on a")

	m.RemoveAt(0)
	require.Equal(t, []string{"b"}, m.Items())

	waitFor(t, func() bool { return m.State() == StateRunning }, "resumed running on b")
	close(det.release)
	waitFor(t, func() bool { return len(m.Items()) == 0 }, "b completed")
}

func TestSubmitNeverReadyFailsBounded(t *testing.T) {
	// Scenario C plus the bounded-wait property: a permanently absent
	// submit control must settle into Errored within the locate budget.
	target := &fakeTarget{ready: false}
	m := NewMachine(context.Background(), target, newFakeDetector(true), testConfig())

	start := time.Now()
	m.Enqueue("x")

	waitFor(t, func() bool { return m.State() == StateErrored }, "errored state")
	require.Less(t, time.Since(start), 2*time.Second)

	failure := m.LastFailure()
	require.NotNil(t, failure)
	require.Equal(t, "x", failure.Prompt)
	require.ErrorIs(t, failure.Err, ErrNotReady)
	// The failed item is retained at index 0.
	require.Equal(t, []string{"x"}, m.Items())
	require.Zero(t, target.clickCount())
}

func TestRetryAfterFailure(t *testing.T) {
	// Scenario D: retry re-runs the same text and clears the error
	// on the transition out of Errored.
	target := &fakeTarget{ready: false}
	m := NewMachine(context.Background(), target, newFakeDetector(true), testConfig())

	m.Enqueue("x")
	waitFor(t, func() bool { return m.State() == StateErrored }, "errored state")

	target.setReady(true)
	m.Retry()
	require.Nil(t, m.LastFailure())

	waitFor(t, func() bool { return m.State() == StateIdle && len(m.Items()) == 0 }, "retried to completion")
	require.Equal(t, 1, target.clickCount())
}

func TestResetIsAbsolute(t *testing.T) {
	// Scenario E: a navigation reset drops everything mid-flight.
	target := &fakeTarget{ready: true}
	det := newFakeDetector(false)
	m := NewMachine(context.Background(), target, det, testConfig())

	m.Enqueue("a")
	m.Enqueue("b")
	waitFor(t, func() bool { return m.State() == StateRunning }, "running on a")

	m.Reset()
	require.Empty(t, m.Items())
	require.Equal(t, StateIdle, m.State())
	require.Nil(t, m.LastFailure())

	// The abandoned detector resolving later must not resurrect anything.
	close(det.release)
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, m.Items())
	require.Equal(t, StateIdle, m.State())
}

func TestClearIsIdempotent(t *testing.T) {
	target := &fakeTarget{}
	cfg := testConfig()
	cfg.FirstSendDelay = time.Second
	m := NewMachine(context.Background(), target, newFakeDetector(true), cfg)

	m.Enqueue("a")
	m.Enqueue("b")

	m.Clear()
	m.Clear()

	require.Empty(t, m.Items())
	require.Equal(t, StateIdle, m.State())
	require.Nil(t, m.LastFailure())
}

func TestRemoveBeforeSendHasNoSideEffects(t *testing.T) {
	// Enqueue immediately followed by RemoveAt(0) before the send
	// delay elapses must leave the host DOM untouched.
	target := &fakeTarget{ready: true}
	cfg := testConfig()
	cfg.FirstSendDelay = 100 * time.Millisecond
	m := NewMachine(context.Background(), target, newFakeDetector(true), cfg)

	m.Enqueue("x")
	m.RemoveAt(0)

	require.Empty(t, m.Items())
	require.Equal(t, StateIdle, m.State())

	time.Sleep(200 * time.Millisecond)
	require.Zero(t, target.writeCount())
	require.Zero(t, target.clickCount())
	require.Equal(t, StateIdle, m.State())
}

func TestClickFailureBecomesErroredState(t *testing.T) {
	target := &fakeTarget{ready: true, clickErr: errors.New("host DOM exploded")}
	m := NewMachine(context.Background(), target, newFakeDetector(true), testConfig())

	m.Enqueue("x")
	waitFor(t, func() bool { return m.State() == StateErrored }, "errored state")

	failure := m.LastFailure()
	require.NotNil(t, failure)
	require.ErrorIs(t, failure.Err, ErrActivationFailed)
	require.Equal(t, []string{"x"}, m.Items())
}

func TestSequentialDrain(t *testing.T) {
	// Items are submitted strictly in order, one at a time.
	target := &fakeTarget{ready: true}
	m := NewMachine(context.Background(), target, newFakeDetector(true), testConfig())

	m.Enqueue("one")
	m.Enqueue("two")
	m.Enqueue("three")

	waitFor(t, func() bool { return len(m.Items()) == 0 && m.State() == StateIdle }, "queue drained")
	require.Equal(t, 3, target.clickCount())

	// The last write for each click must be the item itself, in order.
	target.mu.Lock()
	defer target.mu.Unlock()
	var order []string
	for _, w := range target.writes {
		if len(order) == 0 || order[len(order)-1] != w {
			order = append(order, w)
		}
	}
	require.Equal(t, []string{"one", "two", "three"}, order)
}

func TestEventsPublished(t *testing.T) {
	target := &fakeTarget{ready: true}
	m := NewMachine(context.Background(), target, newFakeDetector(true), testConfig())

	queueCh := m.Subscribe(QueueChanged)
	stateCh := m.Subscribe(StateChanged)

	m.Enqueue("x")

	ev := <-queueCh
	require.Equal(t, QueueChanged, ev.Type)
	require.Equal(t, []string{"x"}, ev.Items)

	ev = <-stateCh
	require.Equal(t, StateChanged, ev.Type)
	require.Equal(t, StateRunning, ev.State)

	waitFor(t, func() bool { return m.State() == StateIdle }, "completion")
	m.Unsubscribe(queueCh)
	m.Unsubscribe(stateCh)
}
