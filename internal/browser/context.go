// internal/browser/context.go
package browser

import (
	"context"
	"time"
)

// bind derives a context from tab, which carries the chromedp target, that is
// also cancelled when op is done and, for a positive timeout, after timeout.
// chromedp actions must run on a context derived from the tab; the caller's
// context only contributes its lifetime.
func bind(tab, op context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(tab)
	stop := context.AfterFunc(op, cancel)

	if timeout <= 0 {
		return ctx, func() {
			stop()
			cancel()
		}
	}
	tctx, tcancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		stop()
		tcancel()
		cancel()
	}
}
