// internal/wait/conditions.go
package wait

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/settle/internal/locator"
	"github.com/xkilldash9x/settle/internal/remote"
)

// Condition is a repeatedly evaluable check. Evaluate reports (value, true, nil)
// once satisfied, (zero, false, nil) when not yet, and an error otherwise.
// Implementations must be safe to call many times in a row.
type Condition[T any] interface {
	Evaluate(ctx context.Context, s remote.Session) (T, bool, error)
}

// ConditionFunc adapts a function to Condition.
type ConditionFunc[T any] func(ctx context.Context, s remote.Session) (T, bool, error)

func (f ConditionFunc[T]) Evaluate(ctx context.Context, s remote.Session) (T, bool, error) {
	return f(ctx, s)
}

// Predicate adapts a boolean check; the wait succeeds with true once f does.
func Predicate(f func(ctx context.Context, s remote.Session) (bool, error)) Condition[bool] {
	return ConditionFunc[bool](func(ctx context.Context, s remote.Session) (bool, bool, error) {
		ok, err := f(ctx, s)
		return ok, ok && err == nil, err
	})
}

// normalize is the one text normalization used by every comparison.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func find(ctx context.Context, s remote.Session, loc locator.Locator) (remote.ElementHandle, error) {
	if err := remote.CheckLocator(loc); err != nil {
		return nil, err
	}
	return s.Find(ctx, loc)
}

func findAndRead(ctx context.Context, s remote.Session, loc locator.Locator) (remote.ElementHandle, remote.ElementState, error) {
	h, err := find(ctx, s, loc)
	if err != nil {
		return nil, remote.ElementState{}, err
	}
	st, err := s.Read(ctx, h)
	return h, st, err
}

// Present is satisfied once a node matching Locator exists.
type Present struct{ Locator locator.Locator }

func (c Present) String() string { return "presence of " + c.Locator.String() }

func (c Present) Evaluate(ctx context.Context, s remote.Session) (remote.ElementHandle, bool, error) {
	h, err := find(ctx, s, c.Locator)
	if err != nil {
		return nil, false, err
	}
	return h, true, nil
}

// Visible is satisfied once the node exists and is rendered.
type Visible struct{ Locator locator.Locator }

func (c Visible) String() string { return "visibility of " + c.Locator.String() }

func (c Visible) Evaluate(ctx context.Context, s remote.Session) (remote.ElementHandle, bool, error) {
	h, st, err := findAndRead(ctx, s, c.Locator)
	if err != nil || !st.Rendered {
		return nil, false, err
	}
	return h, true, nil
}

// Clickable is satisfied once the node exists, is rendered and is enabled.
type Clickable struct{ Locator locator.Locator }

func (c Clickable) String() string { return "clickability of " + c.Locator.String() }

func (c Clickable) Evaluate(ctx context.Context, s remote.Session) (remote.ElementHandle, bool, error) {
	h, st, err := findAndRead(ctx, s, c.Locator)
	if err != nil || !st.Rendered || !st.Enabled {
		return nil, false, err
	}
	return h, true, nil
}

// ManyPresent is satisfied once at least one node matches.
type ManyPresent struct{ Locator locator.Locator }

func (c ManyPresent) String() string { return "at least one " + c.Locator.String() }

func (c ManyPresent) Evaluate(ctx context.Context, s remote.Session) ([]remote.ElementHandle, bool, error) {
	if err := remote.CheckLocator(c.Locator); err != nil {
		return nil, false, err
	}
	hs, err := s.FindAll(ctx, c.Locator)
	if err != nil || len(hs) == 0 {
		return nil, false, err
	}
	return hs, true, nil
}

// TextContains is satisfied once the node's normalized text contains the
// normalized Expected string.
type TextContains struct {
	Locator  locator.Locator
	Expected string
}

func (c TextContains) String() string {
	return fmt.Sprintf("text of %s to contain %q", c.Locator, c.Expected)
}

func (c TextContains) Evaluate(ctx context.Context, s remote.Session) (remote.ElementHandle, bool, error) {
	h, st, err := findAndRead(ctx, s, c.Locator)
	if err != nil || !strings.Contains(normalize(st.Text), normalize(c.Expected)) {
		return nil, false, err
	}
	return h, true, nil
}

// TextChangedFrom is satisfied once the node's normalized text differs from
// the normalized Old string.
type TextChangedFrom struct {
	Locator locator.Locator
	Old     string
}

func (c TextChangedFrom) String() string {
	return fmt.Sprintf("text of %s to change from %q", c.Locator, c.Old)
}

func (c TextChangedFrom) Evaluate(ctx context.Context, s remote.Session) (remote.ElementHandle, bool, error) {
	h, st, err := findAndRead(ctx, s, c.Locator)
	if err != nil || normalize(st.Text) == normalize(c.Old) {
		return nil, false, err
	}
	return h, true, nil
}

// Disappeared is satisfied when the node is absent, not rendered, or stale.
// Absence is the goal here, so not-found and stale count as success instead
// of being retried.
type Disappeared struct{ Locator locator.Locator }

func (c Disappeared) String() string { return "disappearance of " + c.Locator.String() }

func (c Disappeared) Evaluate(ctx context.Context, s remote.Session) (bool, bool, error) {
	_, st, err := findAndRead(ctx, s, c.Locator)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) || errors.Is(err, remote.ErrStale) {
			return true, true, nil
		}
		return false, false, err
	}
	if !st.Rendered {
		return true, true, nil
	}
	return false, false, nil
}

// TitleContains is satisfied once the current title contains Fragment,
// compared case-insensitively.
type TitleContains struct{ Fragment string }

func (c TitleContains) String() string { return fmt.Sprintf("title to contain %q", c.Fragment) }

func (c TitleContains) Evaluate(ctx context.Context, s remote.Session) (string, bool, error) {
	title, err := s.CurrentTitle(ctx)
	if err != nil || !strings.Contains(normalize(title), normalize(c.Fragment)) {
		return "", false, err
	}
	return title, true, nil
}

// URLContains is satisfied once the current URL contains Fragment, compared
// case-insensitively.
type URLContains struct{ Fragment string }

func (c URLContains) String() string { return fmt.Sprintf("url to contain %q", c.Fragment) }

func (c URLContains) Evaluate(ctx context.Context, s remote.Session) (string, bool, error) {
	u, err := s.CurrentURL(ctx)
	if err != nil || !strings.Contains(normalize(u), normalize(c.Fragment)) {
		return "", false, err
	}
	return u, true, nil
}

// -- Engine shorthands --

func (e *Engine) Present(ctx context.Context, loc locator.Locator, opts ...Option) (remote.ElementHandle, error) {
	return Until[remote.ElementHandle](ctx, e, "", Present{Locator: loc}, opts...)
}

func (e *Engine) Visible(ctx context.Context, loc locator.Locator, opts ...Option) (remote.ElementHandle, error) {
	return Until[remote.ElementHandle](ctx, e, "", Visible{Locator: loc}, opts...)
}

func (e *Engine) Clickable(ctx context.Context, loc locator.Locator, opts ...Option) (remote.ElementHandle, error) {
	return Until[remote.ElementHandle](ctx, e, "", Clickable{Locator: loc}, opts...)
}

func (e *Engine) ManyPresent(ctx context.Context, loc locator.Locator, opts ...Option) ([]remote.ElementHandle, error) {
	return Until[[]remote.ElementHandle](ctx, e, "", ManyPresent{Locator: loc}, opts...)
}

func (e *Engine) TextContains(ctx context.Context, loc locator.Locator, expected string, opts ...Option) (remote.ElementHandle, error) {
	return Until[remote.ElementHandle](ctx, e, "", TextContains{Locator: loc, Expected: expected}, opts...)
}

func (e *Engine) TextChangedFrom(ctx context.Context, loc locator.Locator, old string, opts ...Option) (remote.ElementHandle, error) {
	return Until[remote.ElementHandle](ctx, e, "", TextChangedFrom{Locator: loc, Old: old}, opts...)
}

// Disappeared returns true once the node is gone; on timeout it returns false
// together with the TimeoutError.
func (e *Engine) Disappeared(ctx context.Context, loc locator.Locator, opts ...Option) (bool, error) {
	return Until[bool](ctx, e, "", Disappeared{Locator: loc}, opts...)
}

func (e *Engine) TitleContains(ctx context.Context, fragment string, opts ...Option) (string, error) {
	return Until[string](ctx, e, "", TitleContains{Fragment: fragment}, opts...)
}

func (e *Engine) URLContains(ctx context.Context, fragment string, opts ...Option) (string, error) {
	return Until[string](ctx, e, "", URLContains{Fragment: fragment}, opts...)
}
