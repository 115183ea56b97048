package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

const defaultRenderTimeout = 30 * time.Second

// RenderedHTML loads the timetable page in a headless Chromium instance and
// returns the rendered DOM as HTML. This is the fallback path for
// deployments where the timetabling frontend stops serving static markup;
// the plain Fetcher.Page is always preferred.
//
// Ready condition: the list view always contains at least one session table,
// so we wait for a <table> to become visible before serializing the DOM.
func RenderedHTML(parentCtx context.Context, pageURL string, timeout time.Duration) ([]byte, error) {
	if pageURL == "" {
		return nil, fmt.Errorf("fetch: page URL is empty")
	}
	if timeout <= 0 {
		timeout = defaultRenderTimeout
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
	defer timeoutCancel()

	var html string
	tasks := chromedp.Tasks{
		chromedp.Navigate(pageURL),
		chromedp.WaitVisible("table", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("fetch: chromedp run failed: %w", err)
	}

	return []byte(html), nil
}
