package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/cwygoda/postcatch/internal/domain"
)

const (
	defaultProbeTimeout = 30 * time.Second
	defaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// LaunchOptions configures ChromeLauncher.
type LaunchOptions struct {
	Headless     bool
	UserAgent    string
	ExecPath     string
	WindowWidth  int
	WindowHeight int
	ProbeTimeout time.Duration
}

// ChromeLauncher starts Chrome through chromedp.
type ChromeLauncher struct {
	opts LaunchOptions
}

// NewChromeLauncher creates a ChromeLauncher.
func NewChromeLauncher(opts LaunchOptions) *ChromeLauncher {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.WindowWidth <= 0 || opts.WindowHeight <= 0 {
		opts.WindowWidth, opts.WindowHeight = 1280, 1024
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	return &ChromeLauncher{opts: opts}
}

func (l *ChromeLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("lang", "pt-BR"),
		chromedp.UserAgent(l.opts.UserAgent),
		chromedp.WindowSize(l.opts.WindowWidth, l.opts.WindowHeight),
	)
	if l.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.opts.ExecPath))
	}
	return opts
}

// Launch starts a browser process. The process outlives ctx; it is stopped
// by Close.
func (l *ChromeLauncher) Launch(ctx context.Context, p domain.Platform) (Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	b := &chromeBrowser{
		ctx:          browserCtx,
		cancel:       browserCancel,
		allocCancel:  allocCancel,
		probeTimeout: l.opts.ProbeTimeout,
	}
	if err := b.Probe(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}
	return b, nil
}

type chromeBrowser struct {
	ctx          context.Context
	cancel       context.CancelFunc
	allocCancel  context.CancelFunc
	probeTimeout time.Duration
}

// Probe loads a blank page and reads its title.
func (b *chromeBrowser) Probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(b.ctx, b.probeTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var title string
	return chromedp.Run(probeCtx,
		chromedp.Navigate("about:blank"),
		chromedp.Title(&title),
	)
}

func (b *chromeBrowser) NewTab(ctx context.Context) (Tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx, chromedp.WithNewBrowserContext())
	// The first Run creates the browser context and its target.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, err
	}
	return &chromeTab{ctx: tabCtx, cancel: cancel}, nil
}

func (b *chromeBrowser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	return err
}

type chromeTab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (t *chromeTab) Context() context.Context { return t.ctx }

// run executes actions on the tab while honouring the caller's ctx.
func (t *chromeTab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (t *chromeTab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx, chromedp.Navigate(url))
}

func (t *chromeTab) SetCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	now := time.Now()
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			exp := time.Unix(int64(c.Expires), 0)
			if !exp.After(now) {
				continue
			}
			ts := cdp.TimeSinceEpoch(exp)
			param.Expires = &ts
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			param.SameSite = network.CookieSameSiteStrict
		case "lax":
			param.SameSite = network.CookieSameSiteLax
		case "none":
			param.SameSite = network.CookieSameSiteNone
		}
		params = append(params, param)
	}
	if len(params) == 0 {
		return nil
	}
	return t.run(ctx,
		network.Enable(),
		network.SetCookies(params),
	)
}

func (t *chromeTab) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		c := chromedp.FromContext(ctx)
		var err error
		raw, err = storage.GetCookies().
			WithBrowserContextID(c.BrowserContextID).
			Do(cdp.WithExecutor(ctx, c.Browser))
		return err
	}))
	if err != nil {
		return nil, err
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		})
	}
	return cookies, nil
}

func (t *chromeTab) Close() error {
	err := chromedp.Cancel(t.ctx)
	t.cancel()
	return err
}
