package capture

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/cwygoda/postcatch/internal/domain"
)

const (
	instagramDefaultHandle = "Midia Social"
	instagramDefaultText   = "Midia Social Capture"
)

var (
	instagramNotFound = []string{
		"Esta página não está disponível",
		"Page Not Found",
		"Sorry, this page isn't available",
	}
	instagramLogin = loginForm{
		URL:      "https://www.instagram.com/accounts/login/",
		User:     "input[name='username']",
		Password: "input[name='password']",
		Submit:   "button[type='submit']",
		Done:     "svg[aria-label='Pesquisa'], svg[aria-label='Search']",
	}
	instagramChrome = []string{
		"[role='dialog']",
		"[role='presentation']",
		"[role='navigation']",
		"nav",
		"header",
	}
)

// Instagram captures posts and reels.
type Instagram struct {
	base
}

var _ domain.CaptureStrategy = (*Instagram)(nil)

// NewInstagram creates the Instagram strategy.
func NewInstagram(opts Options) *Instagram {
	return &Instagram{base: newBase(domain.PlatformInstagram, opts)}
}

func (s *Instagram) Capture(ctx context.Context, link *domain.LinkRecord, sess domain.Session) domain.CaptureResult {
	page := s.opts.OpenPage(sess)
	target := stripQuery(link.URL)

	if err := s.navigate(ctx, page, target); err != nil {
		return s.failed(link, "navigate", err)
	}
	loc, title, html, err := s.pageState(ctx, page)
	if err != nil {
		return s.failed(link, "read page", err)
	}

	if instagramNeedsLogin(loc, html) {
		if err := s.login(ctx, page, sess, instagramLogin); err != nil {
			return s.failed(link, "login", err)
		}
		if err := s.navigate(ctx, page, target); err != nil {
			return s.failed(link, "navigate", err)
		}
		if _, title, html, err = s.pageState(ctx, page); err != nil {
			return s.failed(link, "read page", err)
		}
	}

	if instagramMissing(title, html) {
		return domain.CaptureNotFound("post unavailable")
	}
	if err := page.WaitVisible(ctx, "main[role='main'], article", s.opts.WaitTimeout); err != nil {
		if _, title, html, rerr := s.pageState(ctx, page); rerr == nil && instagramMissing(title, html) {
			return domain.CaptureNotFound("post unavailable")
		}
		return s.failed(link, "wait for post", err)
	}
	if html, err = page.HTML(ctx); err != nil {
		return s.failed(link, "read page", err)
	}

	doc, err := parseHTML(html)
	if err != nil {
		return s.failed(link, "parse page", err)
	}
	text, handle := instagramText(doc)
	published := publishedAt(doc.Find("article").First())

	if err := page.Hide(ctx, instagramChrome...); err != nil {
		s.log.Debug("hiding page chrome failed", zap.Error(err))
	}
	var targets []string
	if strings.Contains(target, "/reel/") && doc.Find("div.x1yvgwvq").Length() > 0 {
		targets = append(targets, "div.x1yvgwvq")
	}
	if doc.Find("article").Length() > 0 {
		targets = append(targets, "article")
	}
	png, err := s.shoot(ctx, page, targets...)
	if err != nil {
		return s.failed(link, "screenshot", err)
	}

	s.log.Debug("caption extracted", zap.String("handle", handle), zap.Int("len", len(text)))
	return s.save(link, png, text, false, published)
}

func instagramNeedsLogin(loc, html string) bool {
	if strings.Contains(loc, "/accounts/login") {
		return true
	}
	doc, err := parseHTML(html)
	if err != nil {
		return false
	}
	return doc.Find("input[name='username']").Length() > 0 &&
		doc.Find("input[name='password']").Length() > 0
}

func instagramMissing(title, html string) bool {
	return containsAny(html, instagramNotFound) || strings.Contains(strings.ToLower(title), "não está disponível")
}

// instagramText returns the cleaned caption and the account handle.
func instagramText(doc *goquery.Document) (text, handle string) {
	handle = instagramHandle(metaContent(doc, "og:title"))

	caption := strings.TrimSpace(doc.Find("article h1").First().Text())
	if caption == "" {
		caption = captionFromDescription(metaContent(doc, "og:description"))
	}
	if caption == "" {
		if handle != instagramDefaultHandle {
			return handle, handle
		}
		return instagramDefaultText, handle
	}
	return cleanCaption(caption, handle), handle
}

// instagramHandle extracts the handle from an og:title such as
// "Name (@handle) • Instagram photos and videos".
func instagramHandle(title string) string {
	if i := strings.Index(title, "("); i >= 0 {
		if j := strings.Index(title[i+1:], ")"); j >= 0 {
			if h := strings.TrimSpace(title[i+1 : i+1+j]); h != "" {
				return h
			}
		}
	}
	if before, _, ok := strings.Cut(title, "•"); ok {
		if h := strings.TrimSpace(before); h != "" {
			return h
		}
	}
	return instagramDefaultHandle
}

// captionFromDescription extracts the quoted caption from an og:description
// such as `12 likes - user on May 1: "caption"`.
func captionFromDescription(desc string) string {
	_, after, ok := strings.Cut(desc, `: "`)
	if !ok {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(after, `"`))
}

func stripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		before, _, _ := strings.Cut(raw, "?")
		return before
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
