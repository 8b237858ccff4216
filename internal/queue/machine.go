// Package queue drives sequential submission of user prompts into the
// host application's composer: one item in flight at a time, bounded
// waits everywhere, failures surfaced as state instead of exceptions.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateErrored = "errored"
)

const (
	eventSend     = "send"
	eventComplete = "complete"
	eventFail     = "fail"
	eventRetry    = "retry"
	eventAbandon  = "abandon"
)

var (
	// ErrNotReady means the composer input or submit control never
	// became usable within the locate budget.
	ErrNotReady = errors.New("host controls not ready")
	// ErrActivationFailed means the submit click itself failed.
	ErrActivationFailed = errors.New("submit activation failed")
)

// Failure records the last failed attempt: the cause and the exact
// prompt text, which is still sitting at index 0.
type Failure struct {
	Err    error
	Prompt string
}

// Target is the DOM surface the machine drives. Satisfied by
// locator.Locator; faked in tests.
type Target interface {
	WriteInput(ctx context.Context, text string) error
	SubmitReady(ctx context.Context) (bool, error)
	ClickSubmit(ctx context.Context) error
}

// Detector blocks until the host is judged done with the response to
// the submission just triggered. It must never block past its own
// ceiling; the machine treats its return as success unconditionally.
type Detector interface {
	Wait(ctx context.Context, lastItem bool)
}

// Config holds the machine's timing knobs.
type Config struct {
	// LocateBudget bounds the poll for a usable input+submit pair.
	LocateBudget   time.Duration
	LocateInterval time.Duration
	// OpTimeout bounds each individual DOM read/write.
	OpTimeout time.Duration
	// FirstSendDelay lets the host finish its initial render before
	// the first submission of a session; SendDelay paces the rest.
	FirstSendDelay time.Duration
	SendDelay      time.Duration
	// YieldDelay is the pause between a completed item and the next.
	YieldDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		LocateBudget:   15 * time.Second,
		LocateInterval: 500 * time.Millisecond,
		OpTimeout:      2 * time.Second,
		FirstSendDelay: 2 * time.Second,
		SendDelay:      300 * time.Millisecond,
		YieldDelay:     200 * time.Millisecond,
	}
}

// Machine owns the queue store and the Idle/Running/Errored cycle.
// All public operations are non-blocking and never return errors:
// failures become state the presentation layer renders.
type Machine struct {
	mu sync.Mutex

	ctx      context.Context
	sm       *fsm.FSM
	store    store
	failure  *Failure
	target   Target
	detector Detector
	broker   *Broker
	cfg      Config

	// attempt identifies the in-flight submission. Detector and
	// locate-loop outcomes are only honored while their token is
	// still current, which is what makes removeAt(0)-while-Running
	// a clean abandon.
	attempt  uuid.UUID
	sentOnce bool
}

func NewMachine(ctx context.Context, target Target, detector Detector, cfg Config) *Machine {
	m := &Machine{
		ctx:      ctx,
		target:   target,
		detector: detector,
		broker:   NewBroker(),
		cfg:      cfg,
	}
	m.sm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventSend, Src: []string{StateIdle}, Dst: StateRunning},
			{Name: eventComplete, Src: []string{StateRunning}, Dst: StateIdle},
			{Name: eventFail, Src: []string{StateRunning}, Dst: StateErrored},
			{Name: eventRetry, Src: []string{StateErrored}, Dst: StateIdle},
			{Name: eventAbandon, Src: []string{StateRunning, StateErrored}, Dst: StateIdle},
		},
		fsm.Callbacks{},
	)
	return m
}

// Enqueue appends a prompt and, when the machine is at rest, schedules
// a send. The first item of a session waits longer so the host page
// can finish its own initial render.
func (m *Machine) Enqueue(text string) {
	m.mu.Lock()
	m.store.push(text)
	items := m.store.snapshot()
	idle := m.sm.Current() == StateIdle
	delay := m.cfg.SendDelay
	if !m.sentOnce {
		delay = m.cfg.FirstSendDelay
	}
	m.mu.Unlock()

	m.broker.Publish(Event{Type: QueueChanged, Items: items})
	if idle {
		m.schedule(delay)
	}
}

// RemoveAt deletes item i. Removing index 0 while Running abandons the
// in-flight attempt; removing a failed index 0 clears the error. In
// both cases the machine resumes with the next item if any remain.
func (m *Machine) RemoveAt(i int) {
	m.mu.Lock()
	state := m.sm.Current()
	if !m.store.removeAt(i) {
		m.mu.Unlock()
		return
	}
	items := m.store.snapshot()

	resumed := false
	if i == 0 && state != StateIdle {
		m.attempt = uuid.Nil
		if state == StateErrored {
			m.failure = nil
		}
		if err := m.sm.Event(m.ctx, eventAbandon); err != nil {
			log.Printf("queue: abandon transition: %v", err)
		}
		resumed = m.store.len() > 0
	}
	stateNow := m.sm.Current()
	failure := m.failure
	m.mu.Unlock()

	m.broker.Publish(Event{Type: QueueChanged, Items: items})
	if stateNow != state {
		m.broker.Publish(Event{Type: StateChanged, State: stateNow, Failure: failure})
	}
	if resumed {
		m.schedule(m.cfg.SendDelay)
	}
}

// Retry re-attempts the failed item, which was never removed and is
// still at index 0. Defensively resumes even if no failure is
// recorded but work is pending.
func (m *Machine) Retry() {
	m.mu.Lock()
	state := m.sm.Current()
	if state == StateErrored {
		m.failure = nil
		if err := m.sm.Event(m.ctx, eventRetry); err != nil {
			log.Printf("queue: retry transition: %v", err)
		}
		m.mu.Unlock()
		m.broker.Publish(Event{Type: StateChanged, State: StateIdle})
		m.schedule(m.cfg.SendDelay)
		return
	}
	pending := state == StateIdle && m.store.len() > 0
	m.mu.Unlock()

	if pending {
		m.schedule(m.cfg.SendDelay)
	}
}

// Clear empties the queue. An in-flight detector is left to expire on
// its own; its outcome is discarded by the attempt token. Calling
// Clear twice is the same as calling it once.
func (m *Machine) Clear() {
	m.mu.Lock()
	m.store.clear()
	m.failure = nil
	m.attempt = uuid.Nil
	changed := m.sm.Current() != StateIdle
	m.sm.SetState(StateIdle)
	m.mu.Unlock()

	m.broker.Publish(Event{Type: QueueChanged, Items: nil})
	if changed {
		m.broker.Publish(Event{Type: StateChanged, State: StateIdle})
	}
}

// Reset is the navigation/session boundary: everything is dropped
// regardless of in-flight work and the first-send delay applies again.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.store.clear()
	m.failure = nil
	m.attempt = uuid.Nil
	m.sentOnce = false
	m.sm.SetState(StateIdle)
	m.mu.Unlock()

	m.broker.Publish(Event{Type: QueueChanged, Items: nil})
	m.broker.Publish(Event{Type: StateChanged, State: StateIdle})
}

func (m *Machine) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sm.Current()
}

func (m *Machine) Items() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.snapshot()
}

func (m *Machine) LastFailure() *Failure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

func (m *Machine) Subscribe(types ...EventType) <-chan Event {
	return m.broker.Subscribe(types...)
}

func (m *Machine) Unsubscribe(ch <-chan Event) {
	m.broker.Unsubscribe(ch)
}

// schedule runs sendNext after a delay. Stray scheduled sends are
// harmless: sendNext re-checks the Idle gate and queue length.
func (m *Machine) schedule(d time.Duration) {
	go func() {
		if !sleepCtx(m.ctx, d) {
			return
		}
		m.sendNext()
	}()
}

// sendNext is the single entry into the Running state. Only one
// submission is ever in flight: the Idle gate here is the concurrency
// model, not an optimization.
func (m *Machine) sendNext() {
	m.mu.Lock()
	if m.sm.Current() != StateIdle || m.store.len() == 0 {
		m.mu.Unlock()
		return
	}
	text, _ := m.store.peek()
	token := uuid.New()
	m.attempt = token
	m.sentOnce = true
	last := m.store.len() == 1
	if err := m.sm.Event(m.ctx, eventSend); err != nil {
		m.attempt = uuid.Nil
		m.mu.Unlock()
		log.Printf("queue: send transition: %v", err)
		return
	}
	m.mu.Unlock()

	m.broker.Publish(Event{Type: StateChanged, State: StateRunning})
	go m.run(token, text, last)
}

func (m *Machine) run(token uuid.UUID, text string, last bool) {
	ready, err := m.awaitReady(token, text)
	if !m.alive(token) {
		return
	}
	if err != nil {
		m.fail(token, text, err)
		return
	}
	if !ready {
		m.fail(token, text, ErrNotReady)
		return
	}

	// Start the detector before clicking so it can observe the
	// disabled edge the click itself causes.
	detCtx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})
	go func() {
		m.detector.Wait(detCtx, last)
		close(done)
	}()

	if err := m.clickSubmit(); err != nil {
		cancel()
		m.fail(token, text, fmt.Errorf("%w: %v", ErrActivationFailed, err))
		return
	}

	select {
	case <-done:
	case <-m.ctx.Done():
	}
	cancel()

	m.complete(token)
}

// awaitReady polls the locator-backed target within the locate budget,
// restoring the composer text on every pass: the host may clear or
// replace the input at any time, so nothing is trusted across polls.
func (m *Machine) awaitReady(token uuid.UUID, text string) (bool, error) {
	deadline := time.Now().Add(m.cfg.LocateBudget)
	for time.Now().Before(deadline) {
		if !m.alive(token) {
			return false, nil
		}

		opCtx, cancel := context.WithTimeout(m.ctx, m.cfg.OpTimeout)
		if err := m.target.WriteInput(opCtx, text); err != nil {
			log.Printf("queue: write input: %v", err)
		}
		ready, err := m.target.SubmitReady(opCtx)
		cancel()
		if err == nil && ready {
			return true, nil
		}

		if !sleepCtx(m.ctx, m.cfg.LocateInterval) {
			return false, nil
		}
	}
	return false, nil
}

func (m *Machine) clickSubmit() error {
	opCtx, cancel := context.WithTimeout(m.ctx, m.cfg.OpTimeout)
	defer cancel()
	return m.target.ClickSubmit(opCtx)
}

func (m *Machine) alive(token uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt == token
}

func (m *Machine) fail(token uuid.UUID, text string, cause error) {
	m.mu.Lock()
	if m.attempt != token {
		m.mu.Unlock()
		return
	}
	m.attempt = uuid.Nil
	m.failure = &Failure{Err: cause, Prompt: text}
	if err := m.sm.Event(m.ctx, eventFail); err != nil {
		log.Printf("queue: fail transition: %v", err)
	}
	failure := m.failure
	m.mu.Unlock()

	log.Printf("queue: item failed: %v (prompt %q)", cause, text)
	m.broker.Publish(Event{Type: StateChanged, State: StateErrored, Failure: failure})
}

func (m *Machine) complete(token uuid.UUID) {
	m.mu.Lock()
	if m.attempt != token {
		m.mu.Unlock()
		return
	}
	m.attempt = uuid.Nil
	m.store.pop()
	m.failure = nil
	if err := m.sm.Event(m.ctx, eventComplete); err != nil {
		log.Printf("queue: complete transition: %v", err)
	}
	items := m.store.snapshot()
	more := m.store.len() > 0
	m.mu.Unlock()

	m.broker.Publish(Event{Type: QueueChanged, Items: items})
	m.broker.Publish(Event{Type: StateChanged, State: StateIdle})
	if more {
		m.schedule(m.cfg.YieldDelay)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
