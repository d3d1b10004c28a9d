package capture

import (
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// emojiPattern matches everything that is not a letter, digit, whitespace or
// common punctuation, plus underscores.
var emojiPattern = regexp.MustCompile(`[^\p{L}\p{N}\s,!.?@#&"'()\-]|_`)

// stripEmoji removes pictographs and symbols from s.
func stripEmoji(s string) string {
	return strings.TrimSpace(emojiPattern.ReplaceAllString(s, ""))
}

// cleanCaption applies the caption rules: a caption made only of emoji is
// replaced by fallback, otherwise emoji are removed. An empty result also
// becomes fallback.
func cleanCaption(caption, fallback string) string {
	cleaned := stripEmoji(caption)
	if cleaned == "" {
		return fallback
	}
	return cleaned
}

// asciiFold decomposes s and drops everything outside ASCII.
func asciiFold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	})))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func parseHTML(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func metaContent(doc *goquery.Document, property string) string {
	v, _ := doc.Find(`meta[property="` + property + `"]`).First().Attr("content")
	return strings.TrimSpace(v)
}

// publishedAt reads the first time[datetime] under scope.
func publishedAt(scope *goquery.Selection) *time.Time {
	raw, ok := scope.Find("time[datetime]").First().Attr("datetime")
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// containsAny reports whether s contains one of the markers, ignoring case.
func containsAny(s string, markers []string) bool {
	s = strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(s, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// readableText runs readability over a full document and returns its plain
// text, or "" when nothing useful was found.
func readableText(html, pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.TextContent)
}

func collapseLines(s string) string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}
