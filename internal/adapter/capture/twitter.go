package capture

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/cwygoda/postcatch/internal/domain"
)

const (
	tweetTextSelector  = "[data-testid='tweetText']"
	twitterDefaultText = "Twitter Post Capture"
)

var (
	twitterNotFound = []string{
		"Hmm...this page doesn't exist",
		"Hmm...this page doesn’t exist",
		"Página não encontrada",
		"Ih, esta página não existe",
		"Esta conta não existe",
		"This account doesn't exist",
		"This account doesn’t exist",
	}
	twitterLogin = loginForm{
		URL:       "https://x.com/login",
		User:      "input[autocomplete='username'], input[name='text']",
		UserEnter: true,
		Password:  "input[name='password'], input[type='password']",
		Submit:    "[data-testid='LoginForm_Login_Button']",
		Done:      "[data-testid='SideNav_AccountSwitcher_Button']",
	}
)

// Twitter captures posts on X.
type Twitter struct {
	base
}

var _ domain.CaptureStrategy = (*Twitter)(nil)

// NewTwitter creates the Twitter/X strategy.
func NewTwitter(opts Options) *Twitter {
	return &Twitter{base: newBase(domain.PlatformTwitter, opts)}
}

func (s *Twitter) Capture(ctx context.Context, link *domain.LinkRecord, sess domain.Session) domain.CaptureResult {
	page := s.opts.OpenPage(sess)
	target := twitterURL(link.URL)

	if err := s.navigate(ctx, page, target); err != nil {
		return s.failed(link, "navigate", err)
	}
	loc, title, html, err := s.pageState(ctx, page)
	if err != nil {
		return s.failed(link, "read page", err)
	}

	if strings.Contains(loc, "x.com/login") || strings.Contains(html, `data-testid="loginButton"`) {
		if err := s.login(ctx, page, sess, twitterLogin); err != nil {
			return s.failed(link, "login", err)
		}
		if err := s.navigate(ctx, page, target); err != nil {
			return s.failed(link, "navigate", err)
		}
		if _, title, html, err = s.pageState(ctx, page); err != nil {
			return s.failed(link, "read page", err)
		}
	}

	if twitterMissing(title, html) {
		return domain.CaptureNotFound("tweet or account not found")
	}

	// A timeout here is not fatal; the document is checked again below.
	if err := page.WaitVisible(ctx, tweetTextSelector+", [data-testid='error-detail']", s.opts.WaitTimeout); err != nil {
		if ctx.Err() != nil {
			return s.failed(link, "wait for tweet", ctx.Err())
		}
		s.log.Debug("tweet text not visible yet", zap.Error(err))
	}
	if _, title, html, err = s.pageState(ctx, page); err != nil {
		return s.failed(link, "read page", err)
	}
	if twitterMissing(title, html) {
		return domain.CaptureNotFound("tweet or account not found")
	}

	doc, err := parseHTML(html)
	if err != nil {
		return s.failed(link, "parse page", err)
	}
	tweet := doc.Find(tweetTextSelector).First()
	if tweet.Length() == 0 {
		return domain.CaptureFailed("tweet text not found")
	}
	text := strings.TrimSpace(asciiFold(tweet.Text()))
	if text == "" {
		text = twitterDefaultText
	}
	published := publishedAt(tweet.Closest("article"))

	png, err := s.shoot(ctx, page)
	if err != nil {
		return s.failed(link, "screenshot", err)
	}
	return s.save(link, png, text, true, published)
}

// twitterURL rewrites twitter.com links to x.com over https.
func twitterURL(raw string) string {
	u := strings.Replace(raw, "twitter.com", "x.com", 1)
	if rest, ok := strings.CutPrefix(u, "http://"); ok {
		u = "https://" + rest
	}
	return u
}

func twitterMissing(title, html string) bool {
	if containsAny(html, twitterNotFound) {
		return true
	}
	return containsAny(title, []string{"not found", "página não encontrada"})
}
