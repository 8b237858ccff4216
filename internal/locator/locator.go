package locator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInputNotFound  = errors.New("composer input not found")
	ErrSubmitNotFound = errors.New("submit control not found")
	ErrClickFailed    = errors.New("submit click failed")
)

// Evaluator runs a JS expression in the live page. Satisfied by
// browser.Manager; faked in tests.
type Evaluator interface {
	Eval(ctx context.Context, expr string, out any) error
}

type Config struct {
	InputSelector string
	SubmitCascade []Strategy
}

func DefaultConfig() Config {
	return Config{
		InputSelector: DefaultInputSelector,
		SubmitCascade: DefaultSubmitCascade(),
	}
}

// Locator resolves the host's composer input and submit control at
// the moment of use. Nothing is cached between calls: the host
// re-renders at will, so every operation re-queries the DOM.
type Locator struct {
	ev  Evaluator
	cfg Config
}

func New(ev Evaluator, cfg Config) *Locator {
	if cfg.InputSelector == "" {
		cfg.InputSelector = DefaultInputSelector
	}
	if len(cfg.SubmitCascade) == 0 {
		cfg.SubmitCascade = DefaultSubmitCascade()
	}
	return &Locator{ev: ev, cfg: cfg}
}

// submitResolveJS resolves the cascade and reports the winning
// strategy plus the dual enabled check: the native disabled attribute
// AND the host's visually-disabled styling marker both have to pass.
const submitResolveJS = `(() => {
	const strategies = %s;
	const input = document.querySelector(%s);

	const visuallyDisabled = (el) => {
		const style = window.getComputedStyle(el);
		const op = parseFloat(style.opacity || '1');
		if (!Number.isNaN(op) && op < 0.9) return true;
		const cls = String(el.className || '');
		return /(^|\s)(disabled|opacity-50|cursor-not-allowed)(\s|$)/i.test(cls);
	};
	const isEnabled = (el) =>
		!el.disabled &&
		!el.hasAttribute('disabled') &&
		el.getAttribute('aria-disabled') !== 'true' &&
		!visuallyDisabled(el);

	const resolve = (s) => {
		if (s.mode === 'near-input') {
			if (!input) return null;
			const scope = input.closest('form') || input.parentElement;
			if (!scope) return null;
			const btn = Array.from(scope.querySelectorAll('button')).find(b => !b.disabled);
			return btn || null;
		}
		const list = Array.from(document.querySelectorAll(s.query));
		if (s.mode === 'label') {
			const needle = (s.text || 'send').toLowerCase();
			return list.find(el => {
				const label = ((el.innerText || '') + ' ' +
					(el.getAttribute('aria-label') || '') + ' ' +
					(el.getAttribute('title') || '')).toLowerCase();
				return label.includes(needle);
			}) || null;
		}
		return list[0] || null;
	};

	for (const s of strategies) {
		const el = resolve(s);
		if (el) {
			return { found: true, strategy: s.name, enabled: isEnabled(el) };
		}
	}
	return { found: false, strategy: '', enabled: false };
})()`

// SubmitState is the result of one cascade resolution.
type SubmitState struct {
	Found    bool   `json:"found"`
	Strategy string `json:"strategy"`
	Enabled  bool   `json:"enabled"`
}

func (l *Locator) Submit(ctx context.Context) (SubmitState, error) {
	expr := fmt.Sprintf(submitResolveJS, mustJSON(l.cfg.SubmitCascade), mustJSON(l.cfg.InputSelector))
	var st SubmitState
	if err := l.ev.Eval(ctx, expr, &st); err != nil {
		return SubmitState{}, fmt.Errorf("resolve submit control: %w", err)
	}
	return st, nil
}

// SubmitReady reports whether the submit control is currently usable.
func (l *Locator) SubmitReady(ctx context.Context) (bool, error) {
	st, err := l.Submit(ctx)
	if err != nil {
		return false, err
	}
	return st.Found && st.Enabled, nil
}

const writeInputJS = `(() => {
	const input = document.querySelector(%s);
	if (!input) return { found: false, wrote: false };
	const text = %s;
	const current = input.value !== undefined ? input.value : input.textContent;
	if (current === text) return { found: true, wrote: false };
	if (input.value !== undefined) {
		input.value = text;
	} else {
		input.textContent = text;
	}
	input.dispatchEvent(new Event('input', { bubbles: true }));
	input.dispatchEvent(new Event('change', { bubbles: true }));
	return { found: true, wrote: true };
})()`

// WriteInput sets the composer text if it differs and dispatches the
// input/change events the host's own enable-logic listens for.
func (l *Locator) WriteInput(ctx context.Context, text string) error {
	expr := fmt.Sprintf(writeInputJS, mustJSON(l.cfg.InputSelector), mustJSON(text))
	var res struct {
		Found bool `json:"found"`
		Wrote bool `json:"wrote"`
	}
	if err := l.ev.Eval(ctx, expr, &res); err != nil {
		return fmt.Errorf("write input: %w", err)
	}
	if !res.Found {
		return ErrInputNotFound
	}
	return nil
}

const clickSubmitJS = `(() => {
	const strategies = %s;
	const input = document.querySelector(%s);

	const resolve = (s) => {
		if (s.mode === 'near-input') {
			if (!input) return null;
			const scope = input.closest('form') || input.parentElement;
			if (!scope) return null;
			const btn = Array.from(scope.querySelectorAll('button')).find(b => !b.disabled);
			return btn || null;
		}
		const list = Array.from(document.querySelectorAll(s.query));
		if (s.mode === 'label') {
			const needle = (s.text || 'send').toLowerCase();
			return list.find(el => {
				const label = ((el.innerText || '') + ' ' +
					(el.getAttribute('aria-label') || '') + ' ' +
					(el.getAttribute('title') || '')).toLowerCase();
				return label.includes(needle);
			}) || null;
		}
		return list[0] || null;
	};

	for (const s of strategies) {
		const el = resolve(s);
		if (el) {
			try {
				if (el.scrollIntoViewIfNeeded) {
					el.scrollIntoViewIfNeeded();
				}
				el.click();
				return { clicked: true, error: '' };
			} catch (e) {
				return { clicked: false, error: String(e) };
			}
		}
	}
	return { clicked: false, error: 'not found' };
})()`

// ClickSubmit activates the submit control. This is the only locator
// operation whose failure is a hard error to the queue: a throw from
// the host's own click handler means the submission cannot be trusted.
func (l *Locator) ClickSubmit(ctx context.Context) error {
	expr := fmt.Sprintf(clickSubmitJS, mustJSON(l.cfg.SubmitCascade), mustJSON(l.cfg.InputSelector))
	var res struct {
		Clicked bool   `json:"clicked"`
		Error   string `json:"error"`
	}
	if err := l.ev.Eval(ctx, expr, &res); err != nil {
		return fmt.Errorf("%w: %v", ErrClickFailed, err)
	}
	if !res.Clicked {
		if res.Error == "not found" {
			return ErrSubmitNotFound
		}
		return fmt.Errorf("%w: %s", ErrClickFailed, res.Error)
	}
	return nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Only reachable with unmarshalable config, which is a
		// programming error.
		panic(fmt.Sprintf("locator: marshal %T: %v", v, err))
	}
	return string(b)
}
