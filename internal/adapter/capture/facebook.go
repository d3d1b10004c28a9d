package capture

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/cwygoda/postcatch/internal/domain"
)

const facebookDefaultText = "Facebook Post Capture"

var (
	facebookNotFound = []string{
		"não está disponível agora",
		"content isn't available",
		"content isn’t available",
	}
	facebookLogin = loginForm{
		URL:      "https://www.facebook.com/",
		User:     "input[name='email']",
		Password: "input[name='pass']",
		Submit:   "button[name='login']",
		Done:     "div[role='banner'], svg[aria-label='Facebook']",
	}
	facebookMessageSelectors = []string{
		"[data-ad-preview='message']",
		"[data-ad-comet-preview='message']",
		"[data-ad-rendering-role='story_message']",
		"div[dir='auto']",
	}
	facebookStopWords   = []string{"curtir", "comentar", "página", "publicidade"}
	facebookInteraction = []string{"curtir", "comentar", "compartilhar", "like", "comment", "share", "seguir", "follow"}
	facebookBoilerplate = regexp.MustCompile(`(?im)^(Post de .*|Sugerido para você.*|Patrocinado.*)$`)
	facebookChrome      = []string{
		"div[aria-label='Fechar']",
		"div[aria-label='Close']",
		"div[role='banner']",
		"div#header_container",
	}
)

// Facebook captures posts, including ones opened in a dialog.
type Facebook struct {
	base
}

var _ domain.CaptureStrategy = (*Facebook)(nil)

// NewFacebook creates the Facebook strategy.
func NewFacebook(opts Options) *Facebook {
	return &Facebook{base: newBase(domain.PlatformFacebook, opts)}
}

func (s *Facebook) Capture(ctx context.Context, link *domain.LinkRecord, sess domain.Session) domain.CaptureResult {
	page := s.opts.OpenPage(sess)

	if err := s.navigate(ctx, page, link.URL); err != nil {
		return s.failed(link, "navigate", err)
	}
	_, _, html, err := s.pageState(ctx, page)
	if err != nil {
		return s.failed(link, "read page", err)
	}

	if facebookNeedsLogin(html) {
		if err := s.login(ctx, page, sess, facebookLogin); err != nil {
			return s.failed(link, "login", err)
		}
		if err := s.navigate(ctx, page, link.URL); err != nil {
			return s.failed(link, "navigate", err)
		}
		if html, err = page.HTML(ctx); err != nil {
			return s.failed(link, "read page", err)
		}
	}
	if containsAny(html, facebookNotFound) {
		return domain.CaptureNotFound("content unavailable")
	}

	wait := "div[role='dialog'] [data-ad-preview='message'], div[role='dialog'] [data-ad-rendering-role='story_message'], div[role='article'], div[role='main']"
	if err := page.WaitVisible(ctx, wait, s.opts.WaitTimeout); err != nil {
		if ctx.Err() != nil {
			return s.failed(link, "wait for post", ctx.Err())
		}
		s.log.Debug("post content not visible", zap.Error(err))
	}

	loc, _, html, err := s.pageState(ctx, page)
	if err != nil {
		return s.failed(link, "read page", err)
	}
	doc, err := parseHTML(html)
	if err != nil {
		return s.failed(link, "parse page", err)
	}
	text := facebookText(doc, html, loc)

	if err := page.Hide(ctx, facebookChrome...); err != nil {
		s.log.Debug("hiding page chrome failed", zap.Error(err))
	}
	var targets []string
	switch {
	case doc.Find("div[role='dialog']").Length() > 0:
		targets = append(targets, "div[role='dialog']")
	case doc.Find("div[role='article']").Length() > 0:
		targets = append(targets, "div[role='article']")
	}
	png, err := s.shoot(ctx, page, targets...)
	if err != nil {
		return s.failed(link, "screenshot", err)
	}
	return s.save(link, png, text, false, publishedAt(doc.Selection))
}

func facebookNeedsLogin(html string) bool {
	doc, err := parseHTML(html)
	if err != nil {
		return false
	}
	return doc.Find("input[name='email']").Length() > 0 && doc.Find("input[name='pass']").Length() > 0
}

// facebookText picks the post message from the dialog or first article, then
// falls back to readability and finally to the article's longer lines.
func facebookText(doc *goquery.Document, html, pageURL string) string {
	root := doc.Find("div[role='dialog']").First()
	if root.Length() == 0 {
		root = doc.Find("div[role='article']").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	text := facebookMessage(root)
	if text == "" {
		text = readableText(html, pageURL)
	}
	if text == "" {
		text = facebookLines(root.Text())
	}
	text = strings.TrimSpace(facebookBoilerplate.ReplaceAllString(text, ""))
	if text == "" {
		return facebookDefaultText
	}
	return collapseLines(text)
}

func facebookMessage(root *goquery.Selection) string {
	for _, sel := range facebookMessageSelectors {
		var found string
		root.Find(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			t := strings.TrimSpace(el.Text())
			if len(t) <= 5 || containsAny(t, facebookStopWords) {
				return true
			}
			found = t
			return false
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// facebookLines keeps up to ten lines that are not interaction labels.
func facebookLines(raw string) string {
	var kept []string
	for _, l := range strings.Split(raw, "\n") {
		l = strings.TrimSpace(l)
		if len(l) <= 3 || containsAny(l, facebookInteraction) {
			continue
		}
		kept = append(kept, l)
		if len(kept) == 10 {
			break
		}
	}
	return strings.Join(kept, "\n")
}
