// Package capture translates keystrokes inside the host composer into
// queue intents. A modified Enter always enqueues; a plain Enter is
// intercepted and enqueued instead of submitting whenever the machine
// is busy and the host's submit control is disabled.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

type Evaluator interface {
	Eval(ctx context.Context, expr string, out any) error
}

// hookJS installs a capture-phase keydown listener. Captured texts
// are buffered in a page global and the composer is cleared, exactly
// as if the adapter had consumed the keystroke. Idempotent across
// installs; lost on navigation, so the drain loop re-installs.
const hookJS = `(() => {
	if (window.__ppHooked) {
		return true;
	}
	window.__ppIntents = window.__ppIntents || [];
	window.__ppBusy = window.__ppBusy || false;

	document.addEventListener('keydown', (e) => {
		if (e.key !== 'Enter') return;
		const input = document.querySelector(%s);
		if (!input || e.target !== input) return;

		const text = input.value !== undefined ? input.value : input.textContent;
		if (!text || !text.trim()) return;

		const modified = e.ctrlKey || e.metaKey;
		if (!modified && !window.__ppBusy) return;

		e.preventDefault();
		e.stopPropagation();
		window.__ppIntents.push(text);
		if (input.value !== undefined) {
			input.value = '';
		} else {
			input.textContent = '';
		}
		input.dispatchEvent(new Event('input', { bubbles: true }));
	}, true);

	window.__ppHooked = true;
	return true;
})()`

const drainJS = `(() => {
	const a = window.__ppIntents || [];
	window.__ppIntents = [];
	return a;
})()`

type Capture struct {
	ev            Evaluator
	inputSelector string
	interval      time.Duration
}

func New(ev Evaluator, inputSelector string, interval time.Duration) *Capture {
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	return &Capture{ev: ev, inputSelector: inputSelector, interval: interval}
}

func (c *Capture) install(ctx context.Context) error {
	expr := fmt.Sprintf(hookJS, jsonString(c.inputSelector))
	var ok bool
	return c.ev.Eval(ctx, expr, &ok)
}

// SetBusy mirrors the machine's Running-with-disabled-submit condition
// into the page so the hook can decide about plain Enter.
func (c *Capture) SetBusy(ctx context.Context, busy bool) error {
	return c.ev.Eval(ctx, fmt.Sprintf(`window.__ppBusy = %t`, busy), nil)
}

// Run keeps the hook installed and drains captured texts into enqueue
// until ctx is cancelled.
func (c *Capture) Run(ctx context.Context, enqueue func(text string)) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.install(ctx); err != nil {
				log.Printf("capture hook install failed: %v", err)
				continue
			}
			var texts []string
			if err := c.ev.Eval(ctx, drainJS, &texts); err != nil {
				log.Printf("capture drain failed: %v", err)
				continue
			}
			for _, t := range texts {
				enqueue(t)
			}
		}
	}
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
