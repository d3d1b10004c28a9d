package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/cwygoda/postcatch/internal/domain"
)

// Page is the browser surface a strategy drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	// WaitVisible blocks until selector is visible or timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// Screenshot captures the first node matching selector, or the viewport
	// when selector is empty.
	Screenshot(ctx context.Context, selector string) ([]byte, error)
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// Hide makes every node matching the selectors invisible.
	Hide(ctx context.Context, selectors ...string) error
}

// PageOpener returns the Page backing a leased session.
type PageOpener func(s domain.Session) Page

// ChromePage drives the browsing context of a leased session.
func ChromePage(s domain.Session) Page {
	return &chromePage{ctx: s.Context()}
}

type chromePage struct {
	ctx context.Context
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var loc string
	err := p.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (p *chromePage) Title(ctx context.Context) (string, error) {
	var title string
	err := p.run(ctx, chromedp.Title(&title))
	return title, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

func (p *chromePage) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	if selector == "" {
		err := p.run(ctx, chromedp.CaptureScreenshot(&buf))
		return buf, err
	}
	err := p.run(ctx, chromedp.Screenshot(selector, &buf, chromedp.NodeVisible, chromedp.ByQuery))
	return buf, err
}

func (p *chromePage) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

const hideScript = `(sels => {
	sels.forEach(s => document.querySelectorAll(s).forEach(el => {
		el.style.visibility = 'hidden';
	}));
	document.body.style.overflow = 'auto';
	return true;
})(%s)`

func (p *chromePage) Hide(ctx context.Context, selectors ...string) error {
	if len(selectors) == 0 {
		return nil
	}
	arg, err := json.Marshal(selectors)
	if err != nil {
		return err
	}
	var ok bool
	return p.run(ctx, chromedp.Evaluate(fmt.Sprintf(hideScript, arg), &ok))
}
