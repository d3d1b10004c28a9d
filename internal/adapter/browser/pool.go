// Package browser manages one authenticated automated browser per platform
// and leases isolated browsing contexts on top of it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cwygoda/postcatch/internal/domain"
)

// Launcher starts a browser for a platform.
type Launcher interface {
	Launch(ctx context.Context, p domain.Platform) (Browser, error)
}

// Browser is a running browser process.
type Browser interface {
	// Probe checks the browser still responds.
	Probe(ctx context.Context) error
	// NewTab opens a page in a fresh isolated browser context.
	NewTab(ctx context.Context) (Tab, error)
	Close() error
}

// Tab is a page inside its own browser context.
type Tab interface {
	Context() context.Context
	Navigate(ctx context.Context, url string) error
	SetCookies(ctx context.Context, cookies []Cookie) error
	Cookies(ctx context.Context) ([]Cookie, error)
	Close() error
}

// Observer receives pool lifecycle events.
type Observer interface {
	SessionEvent(platform, event string)
}

// Session lifecycle event names.
const (
	EventLaunch   = "launch"
	EventProbe    = "probe"
	EventRelaunch = "relaunch"
	EventLease    = "lease"
	EventPersist  = "persist"
)

// Stats counts pool activity for one platform.
type Stats struct {
	Launches   int
	Probes     int
	Relaunches int
	Leases     int
	Persists   int
}

// Options configures a Pool.
type Options struct {
	// MinInterval is the minimum time between two leases on one platform.
	MinInterval time.Duration
	Credentials domain.Credentials
	Observer    Observer
}

type slot struct {
	sem     chan struct{}
	limiter *rate.Limiter
	browser Browser

	mu    sync.Mutex
	stats Stats
}

func (s *slot) count(f func(*Stats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}

// Pool hands out at most one lease per platform at a time.
type Pool struct {
	launcher Launcher
	states   *StateStore
	opts     Options
	log      *zap.Logger

	mu     sync.Mutex
	slots  map[domain.Platform]*slot
	closed bool
}

var _ domain.SessionPool = (*Pool)(nil)

// NewPool creates a Pool. Browsers are launched on first use.
func NewPool(launcher Launcher, states *StateStore, opts Options, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		launcher: launcher,
		states:   states,
		opts:     opts,
		log:      log,
		slots:    make(map[domain.Platform]*slot),
	}
}

func (p *Pool) slot(pl domain.Platform) (*slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("%w: pool closed", domain.ErrSessionUnavailable)
	}
	s, ok := p.slots[pl]
	if !ok {
		limit := rate.Inf
		if p.opts.MinInterval > 0 {
			limit = rate.Every(p.opts.MinInterval)
		}
		s = &slot{
			sem:     make(chan struct{}, 1),
			limiter: rate.NewLimiter(limit, 1),
		}
		p.slots[pl] = s
	}
	return s, nil
}

// Acquire leases an isolated, authenticated context for pl. It blocks while
// another lease for the same platform is outstanding.
func (p *Pool) Acquire(ctx context.Context, pl domain.Platform) (domain.Session, error) {
	if pl == domain.PlatformUnknown {
		return nil, domain.ErrUnroutable
	}
	s, err := p.slot(pl)
	if err != nil {
		return nil, err
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l, err := p.lease(ctx, pl, s)
	if err != nil {
		<-s.sem
		return nil, err
	}
	return l, nil
}

func (p *Pool) lease(ctx context.Context, pl domain.Platform, s *slot) (*Lease, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	state, err := p.states.Load(pl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSessionUnavailable, err)
	}
	if state == nil {
		if _, ok := p.opts.Credentials.For(pl); !ok {
			return nil, fmt.Errorf("%w: no saved session or login for %s", domain.ErrMissingCredentials, pl)
		}
	}

	if err := p.ensureLive(ctx, pl, s); err != nil {
		return nil, err
	}

	tab, err := s.browser.NewTab(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open tab: %v", domain.ErrSessionUnavailable, err)
	}
	if state != nil && len(state.Cookies) > 0 {
		if err := tab.SetCookies(ctx, state.Cookies); err != nil {
			tab.Close()
			return nil, fmt.Errorf("%w: restore cookies: %v", domain.ErrSessionUnavailable, err)
		}
	}

	s.count(func(st *Stats) { st.Leases++ })
	p.observe(pl, EventLease)
	p.log.Debug("session leased",
		zap.String("platform", pl.String()),
		zap.Bool("restored", state != nil),
	)
	return &Lease{pool: p, platform: pl, slot: s, tab: tab}, nil
}

// ensureLive launches the browser if needed and probes it. A failed probe
// relaunches once before giving up.
func (p *Pool) ensureLive(ctx context.Context, pl domain.Platform, s *slot) error {
	if s.browser == nil {
		if err := p.launch(ctx, pl, s); err != nil {
			return err
		}
	}

	err := p.probe(ctx, pl, s)
	if err == nil {
		return nil
	}
	p.log.Warn("browser probe failed, relaunching",
		zap.String("platform", pl.String()),
		zap.Error(err),
	)

	p.closeBrowser(pl, s)
	s.count(func(st *Stats) { st.Relaunches++ })
	p.observe(pl, EventRelaunch)
	if err := p.launch(ctx, pl, s); err != nil {
		return err
	}
	if err := p.probe(ctx, pl, s); err != nil {
		p.closeBrowser(pl, s)
		return fmt.Errorf("%w: %s browser unresponsive after relaunch: %v", domain.ErrAuthenticationRequired, pl, err)
	}
	return nil
}

func (p *Pool) launch(ctx context.Context, pl domain.Platform, s *slot) error {
	b, err := p.launcher.Launch(ctx, pl)
	if err != nil {
		return fmt.Errorf("%w: launch %s browser: %v", domain.ErrSessionUnavailable, pl, err)
	}
	s.browser = b
	s.count(func(st *Stats) { st.Launches++ })
	p.observe(pl, EventLaunch)
	p.log.Info("browser launched", zap.String("platform", pl.String()))
	return nil
}

func (p *Pool) probe(ctx context.Context, pl domain.Platform, s *slot) error {
	s.count(func(st *Stats) { st.Probes++ })
	p.observe(pl, EventProbe)
	return s.browser.Probe(ctx)
}

func (p *Pool) closeBrowser(pl domain.Platform, s *slot) {
	if s.browser == nil {
		return
	}
	if err := s.browser.Close(); err != nil {
		p.log.Debug("closing browser", zap.String("platform", pl.String()), zap.Error(err))
	}
	s.browser = nil
}

// Release tears down the lease's browsing context and frees the platform.
func (p *Pool) Release(session domain.Session) {
	l, ok := session.(*Lease)
	if !ok || l == nil {
		return
	}
	l.release()
}

// Stats returns the counters for pl.
func (p *Pool) Stats(pl domain.Platform) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[pl]
	if !ok {
		return Stats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close shuts down every browser. Outstanding leases must be released first.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	var errs []error
	for pl, s := range p.slots {
		if s.browser == nil {
			continue
		}
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s browser: %w", pl, err))
		}
		s.browser = nil
	}
	return errors.Join(errs...)
}

// Login opens the platform home page in a leased context, waits for the
// operator to finish logging in, then saves the session cookies.
func (p *Pool) Login(ctx context.Context, pl domain.Platform, wait func(ctx context.Context) error) error {
	s, err := p.slot(pl)
	if err != nil {
		return err
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	if err := p.ensureLive(ctx, pl, s); err != nil {
		return err
	}
	tab, err := s.browser.NewTab(ctx)
	if err != nil {
		return fmt.Errorf("%w: open tab: %v", domain.ErrSessionUnavailable, err)
	}
	l := &Lease{pool: p, platform: pl, slot: s, tab: tab, detached: true}
	defer l.release()

	if state, err := p.states.Load(pl); err == nil && state != nil {
		if err := tab.SetCookies(ctx, state.Cookies); err != nil {
			p.log.Warn("restoring previous session failed", zap.String("platform", pl.String()), zap.Error(err))
		}
	}
	if err := tab.Navigate(ctx, pl.HomeURL()); err != nil {
		return fmt.Errorf("open %s: %w", pl.HomeURL(), err)
	}
	if err := wait(ctx); err != nil {
		return err
	}
	return l.PersistAuth(ctx)
}

func (p *Pool) observe(pl domain.Platform, event string) {
	if p.opts.Observer != nil {
		p.opts.Observer.SessionEvent(pl.String(), event)
	}
}

// Lease is a leased browsing context. It implements domain.Session.
type Lease struct {
	pool     *Pool
	platform domain.Platform
	slot     *slot
	tab      Tab
	// detached leases do not own the platform semaphore.
	detached bool
	once     sync.Once
}

var _ domain.Session = (*Lease)(nil)

func (l *Lease) Platform() domain.Platform { return l.platform }

func (l *Lease) Context() context.Context { return l.tab.Context() }

// Tab exposes the underlying page.
func (l *Lease) Tab() Tab { return l.tab }

// PersistAuth exports the context's cookies and overwrites the platform's
// state file.
func (l *Lease) PersistAuth(ctx context.Context) error {
	cookies, err := l.tab.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("export cookies: %w", err)
	}
	if err := l.pool.states.Save(l.platform, AuthState{SavedAt: time.Now().UTC(), Cookies: cookies}); err != nil {
		return err
	}
	l.slot.count(func(st *Stats) { st.Persists++ })
	l.pool.observe(l.platform, EventPersist)
	l.pool.log.Info("session state saved",
		zap.String("platform", l.platform.String()),
		zap.Int("cookies", len(cookies)),
	)
	return nil
}

func (l *Lease) release() {
	l.once.Do(func() {
		if err := l.tab.Close(); err != nil {
			l.pool.log.Debug("closing tab", zap.String("platform", l.platform.String()), zap.Error(err))
		}
		if !l.detached {
			<-l.slot.sem
		}
	})
}
