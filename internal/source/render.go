package source

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// renderTimeout bounds one headless page load. The per-attempt retry
// timeout may be shorter; whichever fires first cancels the render.
const renderTimeout = 30 * time.Second

// renderHTML loads url in a headless Chromium instance and returns the
// document HTML after scripts have run. Used for pages whose listings are
// injected client-side and invisible to a plain GET.
func renderHTML(parentCtx context.Context, url string) (string, error) {
	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, renderTimeout)
	defer timeoutCancel()

	var html string
	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Small extra delay so late XHR-driven inserts land.
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	return html, nil
}
