// internal/browser/context.go
package browser

import "context"

// CombineContext returns a context derived from primary that is also cancelled
// when secondary is done. Values and the deadline come from primary, which for
// chromedp carries the target executor; secondary usually carries the caller's
// deadline or cancellation.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(primary)
	stop := context.AfterFunc(secondary, func() {
		cancel(context.Cause(secondary))
	})
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Detach returns a context that keeps the values of ctx but ignores its
// deadline and cancellation. Used for cleanup that must run after the caller
// gave up, such as logging out and closing the browser.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
