// internal/script/effects.go
package script

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/settle/internal/locator"
	"github.com/xkilldash9x/settle/internal/remote"
	"github.com/xkilldash9x/settle/internal/wait"
)

// Remote code templates. Each runs with the target node bound to `this`.
const (
	scrollIntoViewJS = `this.scrollIntoView({behavior: 'smooth', block: arguments[0], inline: 'nearest'});`
	scrollToTopJS    = `window.scrollTo({top: 0, behavior: 'smooth'});`
	scrollToBottomJS = `window.scrollTo({top: document.body.scrollHeight, behavior: 'smooth'});`

	highlightJS = `const el = this;
const original = el.style.border;
el.style.border = '3px solid ' + arguments[0];
setTimeout(function() { el.style.border = original; }, arguments[1]);`

	setValueJS = `this.value = arguments[0];
this.dispatchEvent(new Event('input', {bubbles: true}));
this.dispatchEvent(new Event('change', {bubbles: true}));`

	inViewportJS = `const r = this.getBoundingClientRect();
return r.top >= 0 && r.left >= 0 &&
	r.bottom <= (window.innerHeight || document.documentElement.clientHeight) &&
	r.right <= (window.innerWidth || document.documentElement.clientWidth);`

	localStorageGetJS   = `return window.localStorage.getItem(arguments[0]);`
	localStorageClearJS = `window.localStorage.clear();`

	revealJS = `this.style.display = 'block';
this.style.visibility = 'visible';
this.style.opacity = '1';`
)

// Block is the vertical alignment used by ScrollIntoView.
type Block string

const (
	BlockStart   Block = "start"
	BlockCenter  Block = "center"
	BlockEnd     Block = "end"
	BlockNearest Block = "nearest"
)

func (b Block) valid() bool {
	switch b {
	case BlockStart, BlockCenter, BlockEnd, BlockNearest:
		return true
	}
	return false
}

// settle sleeps for d unless ctx ends first. Animated effects have no remote
// completion signal, so a fixed delay is all there is.
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (b *Bridge) present(ctx context.Context, loc locator.Locator, opts []wait.Option) (remote.ElementHandle, error) {
	h, err := b.engine.Present(ctx, loc, opts...)
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	return h, nil
}

// ScrollIntoView smoothly scrolls loc into view and waits for the scroll
// animation to settle. An empty block means BlockCenter.
func (b *Bridge) ScrollIntoView(ctx context.Context, loc locator.Locator, block Block, opts ...wait.Option) error {
	if block == "" {
		block = BlockCenter
	}
	if !block.valid() {
		return fmt.Errorf("script: invalid scroll block %q", block)
	}
	h, err := b.present(ctx, loc, opts)
	if err != nil {
		return err
	}
	if err := b.Run(ctx, Invocation{Source: scrollIntoViewJS, Args: []any{string(block)}, Target: h}); err != nil {
		return err
	}
	return settle(ctx, b.cfg.ScrollSettle)
}

// ScrollToTop smoothly scrolls the window to the top.
func (b *Bridge) ScrollToTop(ctx context.Context) error {
	if err := b.Run(ctx, Invocation{Source: scrollToTopJS}); err != nil {
		return err
	}
	return settle(ctx, b.cfg.SmoothScrollSettle)
}

// ScrollToBottom smoothly scrolls the window to the end of the document.
func (b *Bridge) ScrollToBottom(ctx context.Context) error {
	if err := b.Run(ctx, Invocation{Source: scrollToBottomJS}); err != nil {
		return err
	}
	return settle(ctx, b.cfg.SmoothScrollSettle)
}

// Highlight draws a border around loc and lets the page restore the original
// border after d. It returns immediately. Empty color and zero d fall back to
// the configured defaults.
func (b *Bridge) Highlight(ctx context.Context, loc locator.Locator, color string, d time.Duration, opts ...wait.Option) error {
	if color == "" {
		color = b.cfg.HighlightColor
	}
	if d <= 0 {
		d = b.cfg.HighlightDuration
	}
	h, err := b.present(ctx, loc, opts)
	if err != nil {
		return err
	}
	return b.Run(ctx, Invocation{Source: highlightJS, Args: []any{color, d.Milliseconds()}, Target: h})
}

// SetValue assigns value to the node's value property and fires bubbling
// input and change events so page listeners notice.
func (b *Bridge) SetValue(ctx context.Context, loc locator.Locator, value string, opts ...wait.Option) error {
	h, err := b.present(ctx, loc, opts)
	if err != nil {
		return err
	}
	b.logger.Debug("Setting element value.", zap.Stringer("locator", loc))
	return b.Run(ctx, Invocation{Source: setValueJS, Args: []any{value}, Target: h})
}

// IsInViewport reports whether loc is entirely inside the visible viewport.
func (b *Bridge) IsInViewport(ctx context.Context, loc locator.Locator, opts ...wait.Option) (bool, error) {
	h, err := b.present(ctx, loc, opts)
	if err != nil {
		return false, err
	}
	return Execute[bool](ctx, b, Invocation{Source: inViewportJS, Target: h})
}

// LocalStorageItem returns the stored value for key; ok is false when the key
// is absent.
func (b *Bridge) LocalStorageItem(ctx context.Context, key string) (value string, ok bool, err error) {
	v, err := Execute[*string](ctx, b, Invocation{Source: localStorageGetJS, Args: []any{key}})
	if err != nil || v == nil {
		return "", false, err
	}
	return *v, true, nil
}

// ClearLocalStorage empties the page's local storage.
func (b *Bridge) ClearLocalStorage(ctx context.Context) error {
	return b.Run(ctx, Invocation{Source: localStorageClearJS})
}

// RevealHidden forces a hidden node to render, e.g. a styled-away file input.
func (b *Bridge) RevealHidden(ctx context.Context, h remote.ElementHandle) error {
	return b.Run(ctx, Invocation{Source: revealJS, Target: h})
}
