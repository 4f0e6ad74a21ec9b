// Package mode decides whether an operation runs against the live backend or
// against deterministic mock results.
package mode

import (
	"context"
	"net/http"
	"strings"
)

// Header lets an HTTP caller request mock behaviour for a single request.
const Header = "X-Marepo-Mock"

// EnvKey is the environment variable switching the CLI to mock mode.
const EnvKey = "MAREPO_MOCK"

// Selector reports whether the operation running under ctx uses mock mode.
// Callers evaluate it once per operation and never cache the answer.
type Selector interface {
	IsMock(ctx context.Context) bool
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(ctx context.Context) bool

// IsMock implements Selector.
func (f SelectorFunc) IsMock(ctx context.Context) bool { return f(ctx) }

type ctxKey struct{}

// WithMock returns a context carrying an explicit mode override.
func WithMock(ctx context.Context, mock bool) context.Context {
	return context.WithValue(ctx, ctxKey{}, mock)
}

// FromContext returns the override carried by ctx, if any.
func FromContext(ctx context.Context) (mock, ok bool) {
	if ctx == nil {
		return false, false
	}
	mock, ok = ctx.Value(ctxKey{}).(bool)
	return mock, ok
}

// Static always answers the same way unless the context overrides it.
type Static bool

// IsMock implements Selector.
func (s Static) IsMock(ctx context.Context) bool {
	if mock, ok := FromContext(ctx); ok {
		return mock
	}
	return bool(s)
}

// Env re-reads a flag through lookup on every call, so a flag flipped at
// runtime applies to the next operation. A context override wins.
type Env struct {
	Key    string
	Lookup func(key string) string
}

// FromEnv returns the selector reading EnvKey through lookup.
func FromEnv(lookup func(key string) string) Env {
	return Env{Key: EnvKey, Lookup: lookup}
}

// IsMock implements Selector.
func (e Env) IsMock(ctx context.Context) bool {
	if mock, ok := FromContext(ctx); ok {
		return mock
	}
	if e.Lookup == nil {
		return false
	}
	return truthy(e.Lookup(e.Key))
}

// FromRequest derives the per-request override from the mock header.
// Requests without the header keep ctx unchanged.
func FromRequest(r *http.Request) context.Context {
	v := r.Header.Get(Header)
	if v == "" {
		return r.Context()
	}
	return WithMock(r.Context(), truthy(v))
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "mock":
		return true
	default:
		return false
	}
}
