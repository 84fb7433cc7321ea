// Package analysis talks to the AI service that turns a meal description or
// photo into a mood reading, macro totals and a line-item breakdown.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/mealmood/internal/model"
)

// UnidentifiedItemName marks an item the model could not identify. An entry
// carrying it is a successful, low-confidence result.
const UnidentifiedItemName = "unable to identify"

var (
	ErrEmptyRequest = errors.New("analysis request needs text or an image")
	ErrUnparseable  = errors.New("unparseable analysis response")
	ErrTimeout      = errors.New("analysis timed out")
)

type Request struct {
	// Owner scopes stored image references to the user who uploaded them.
	Owner    int64
	RawText  string
	ImageRef string
}

// Empty reports whether neither text nor image was supplied.
func (r Request) Empty() bool {
	return strings.TrimSpace(r.RawText) == "" && strings.TrimSpace(r.ImageRef) == ""
}

type Result struct {
	MoodAnalysis string
	Totals       model.MacroTotals
	Items        []model.FoodItem
	Confidence   model.Confidence
}

// Unidentified reports whether any item carries the unidentified marker.
func (r *Result) Unidentified() bool {
	for _, it := range r.Items {
		if strings.EqualFold(strings.TrimSpace(it.Name), UnidentifiedItemName) {
			return true
		}
	}
	return false
}

// Provider produces a fresh analysis. Implementations may be slow and may
// fail; callers bound them with a deadline.
type Provider interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (*Result, error)

func (f ProviderFunc) Analyze(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

type timeoutProvider struct {
	next    Provider
	timeout time.Duration
}

// WithTimeout bounds every Analyze call on p. A call that runs past the
// deadline returns an error wrapping ErrTimeout even if p ignores ctx.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{next: p, timeout: d}
}

func (t *timeoutProvider) Analyze(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := t.next.Analyze(ctx, req)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %v", ErrTimeout, t.timeout, o.err)
		}
		return o.res, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, t.timeout)
		}
		return nil, ctx.Err()
	}
}
