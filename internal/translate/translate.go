// Package translate defines the optional reasoning-translation capability.
// The bridge only depends on the interface; a concrete client (an LLM API,
// a local model) is wired in by the caller.
package translate

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNoTranslation reports that no translation is available for the input.
// Callers treat it as "show the original text", never as a failure.
var ErrNoTranslation = errors.New("no translation available")

// Translator turns agent reasoning text into the operator's language.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Func adapts a plain function to the Translator interface.
type Func func(ctx context.Context, text string) (string, error)

func (f Func) Translate(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Noop is a Translator that never translates.
type Noop struct{}

func (Noop) Translate(context.Context, string) (string, error) {
	return "", ErrNoTranslation
}

// Bounded wraps a Translator with a per-call deadline. A slow or hung
// backend yields ErrNoTranslation instead of blocking the event path.
type Bounded struct {
	Inner   Translator
	Timeout time.Duration
}

// NewBounded wraps inner with a deadline, defaulting to 5s.
func NewBounded(inner Translator, timeout time.Duration) *Bounded {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Bounded{Inner: inner, Timeout: timeout}
}

func (b *Bounded) Translate(ctx context.Context, text string) (string, error) {
	if b.Inner == nil || strings.TrimSpace(text) == "" {
		return "", ErrNoTranslation
	}

	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	translated, err := b.Inner.Translate(ctx, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", ErrNoTranslation
		}
		return "", err
	}
	if strings.TrimSpace(translated) == "" {
		return "", ErrNoTranslation
	}
	return translated, nil
}
