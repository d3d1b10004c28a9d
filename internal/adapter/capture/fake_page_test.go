package capture

import (
	"context"
	"errors"
	"time"

	"github.com/cwygoda/postcatch/internal/domain"
)

type view struct {
	loc, title, html string
}

// fakePage serves canned documents. Clicking any button counts as a
// successful login.
type fakePage struct {
	serve    func(url string, loggedIn bool) view
	loggedIn bool
	cur      view

	visited  []string
	filled   map[string]string
	clicked  []string
	hidden   []string
	shots    []string
	waitErrs map[string]error
	shotErrs map[string]error
	navErr   error
	png      []byte
}

func newFakePage(serve func(url string, loggedIn bool) view) *fakePage {
	return &fakePage{
		serve:    serve,
		filled:   make(map[string]string),
		waitErrs: make(map[string]error),
		shotErrs: make(map[string]error),
		png:      []byte("\x89PNG fake"),
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if p.navErr != nil {
		return p.navErr
	}
	p.visited = append(p.visited, url)
	p.cur = p.serve(url, p.loggedIn)
	if p.cur.loc == "" {
		p.cur.loc = url
	}
	return nil
}

func (p *fakePage) URL(ctx context.Context) (string, error)   { return p.cur.loc, nil }
func (p *fakePage) Title(ctx context.Context) (string, error) { return p.cur.title, nil }
func (p *fakePage) HTML(ctx context.Context) (string, error)  { return p.cur.html, nil }

func (p *fakePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return p.waitErrs[selector]
}

func (p *fakePage) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	p.shots = append(p.shots, selector)
	if err := p.shotErrs[selector]; err != nil {
		return nil, err
	}
	return p.png, nil
}

func (p *fakePage) Fill(ctx context.Context, selector, value string) error {
	p.filled[selector] = value
	return nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.clicked = append(p.clicked, selector)
	p.loggedIn = true
	return nil
}

func (p *fakePage) Hide(ctx context.Context, selectors ...string) error {
	p.hidden = append(p.hidden, selectors...)
	return nil
}

type fakeSession struct {
	platform  domain.Platform
	persisted int
}

func (s *fakeSession) Platform() domain.Platform { return s.platform }
func (s *fakeSession) Context() context.Context  { return context.Background() }
func (s *fakeSession) PersistAuth(ctx context.Context) error {
	s.persisted++
	return nil
}

func testOptions(dir string, page *fakePage, creds domain.Credentials) Options {
	return Options{
		Dir:         dir,
		NavTimeout:  time.Second,
		WaitTimeout: time.Second,
		Credentials: creds,
		OpenPage:    func(domain.Session) Page { return page },
	}
}

var errBoom = errors.New("boom")
