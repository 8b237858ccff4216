// Package page decides when the tool is allowed to be active. The
// queue only exists on an eligible host page; navigating away is an
// absolute session boundary so prompts never leak from one working
// context into another.
package page

import (
	"context"
	"log"
	"net/url"
	"regexp"
	"time"
)

// DefaultEligiblePattern matches a project-scoped path segment. The
// bare root/home path is never eligible regardless of pattern.
const DefaultEligiblePattern = `^/(?:project|p|chat)/([\w-]+)`

// Hooks are fired on eligibility transitions. OnEligible also fires
// when the working context changes between two eligible pages (a
// different project is a different session).
type Hooks struct {
	OnEligible   func(contextKey string)
	OnIneligible func()
}

// Watcher polls the page URL and re-evaluates eligibility on every
// change, covering history push/replace/pop the same way.
type Watcher struct {
	urlFn    func(ctx context.Context) (string, error)
	pattern  *regexp.Regexp
	interval time.Duration
	hooks    Hooks

	eligible bool
	key      string
}

func NewWatcher(urlFn func(ctx context.Context) (string, error), pattern *regexp.Regexp, interval time.Duration, hooks Hooks) *Watcher {
	if pattern == nil {
		pattern = regexp.MustCompile(DefaultEligiblePattern)
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{urlFn: urlFn, pattern: pattern, interval: interval, hooks: hooks}
}

// ContextKey extracts the working-context identity from a URL: the
// matched project segment. Empty means ineligible.
func ContextKey(raw string, pattern *regexp.Regexp) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	path := u.Path
	if path == "" || path == "/" {
		return ""
	}
	m := pattern.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	if len(m) > 1 && m[1] != "" {
		return m[1]
	}
	return m[0]
}

// Run polls until ctx is cancelled. URL read errors are treated as
// "still on the previous page": a transient CDP hiccup must not tear
// the session down.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			raw, err := w.urlFn(ctx)
			if err != nil {
				continue
			}
			w.observe(raw)
		}
	}
}

func (w *Watcher) observe(raw string) {
	key := ContextKey(raw, w.pattern)
	eligible := key != ""

	switch {
	case eligible && !w.eligible:
		log.Printf("page eligible: %s", raw)
		w.eligible = true
		w.key = key
		if w.hooks.OnEligible != nil {
			w.hooks.OnEligible(key)
		}
	case eligible && w.eligible && key != w.key:
		// Moved straight between two working contexts: tear down
		// the old session before starting the new one.
		log.Printf("page context changed: %s", raw)
		w.key = key
		if w.hooks.OnIneligible != nil {
			w.hooks.OnIneligible()
		}
		if w.hooks.OnEligible != nil {
			w.hooks.OnEligible(key)
		}
	case !eligible && w.eligible:
		log.Printf("page no longer eligible: %s", raw)
		w.eligible = false
		w.key = ""
		if w.hooks.OnIneligible != nil {
			w.hooks.OnIneligible()
		}
	}
}
