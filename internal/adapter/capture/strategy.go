package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	xunicode "golang.org/x/text/encoding/unicode"

	"github.com/cwygoda/postcatch/internal/domain"
)

const (
	defaultNavTimeout  = 60 * time.Second
	defaultWaitTimeout = 30 * time.Second
	defaultDir         = "captures"
)

// Options is shared by all strategies.
type Options struct {
	// Dir receives the {platform}_{id}.png and .txt artifacts.
	Dir         string
	NavTimeout  time.Duration
	WaitTimeout time.Duration
	Credentials domain.Credentials
	// OpenPage defaults to ChromePage.
	OpenPage PageOpener
	Log      *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Dir == "" {
		o.Dir = defaultDir
	}
	if o.NavTimeout <= 0 {
		o.NavTimeout = defaultNavTimeout
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = defaultWaitTimeout
	}
	if o.OpenPage == nil {
		o.OpenPage = ChromePage
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	return o
}

// loginForm describes a platform's credential form. UserEnter submits the
// username step with Enter. Done is visible once the login went through.
type loginForm struct {
	URL       string
	User      string
	UserEnter bool
	Password  string
	Submit    string
	Done      string
}

type base struct {
	platform domain.Platform
	opts     Options
	log      *zap.Logger
}

func newBase(p domain.Platform, opts Options) base {
	opts = opts.withDefaults()
	return base{
		platform: p,
		opts:     opts,
		log:      opts.Log.With(zap.String("platform", p.String())),
	}
}

func (b *base) Platform() domain.Platform { return b.platform }

func (b *base) navigate(ctx context.Context, page Page, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, b.opts.NavTimeout)
	defer cancel()
	if err := page.Navigate(navCtx, url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// login fills the platform's form with the configured credentials and saves
// the resulting session.
func (b *base) login(ctx context.Context, page Page, s domain.Session, form loginForm) error {
	cred, ok := b.opts.Credentials.For(b.platform)
	if !ok {
		return fmt.Errorf("%w: %s session expired", domain.ErrMissingCredentials, b.platform)
	}
	b.log.Info("session expired, logging in")

	if form.URL != "" {
		if err := b.navigate(ctx, page, form.URL); err != nil {
			return err
		}
	}
	if err := page.WaitVisible(ctx, form.User, b.opts.WaitTimeout); err != nil {
		return err
	}
	user := cred.User
	if form.UserEnter {
		user += "\r"
	}
	if err := page.Fill(ctx, form.User, user); err != nil {
		return fmt.Errorf("fill username: %w", err)
	}
	if err := page.WaitVisible(ctx, form.Password, b.opts.WaitTimeout); err != nil {
		return err
	}
	if err := page.Fill(ctx, form.Password, cred.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := page.Click(ctx, form.Submit); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}
	if err := page.WaitVisible(ctx, form.Done, b.opts.WaitTimeout); err != nil {
		return fmt.Errorf("%w: login did not complete: %v", domain.ErrAuthenticationRequired, err)
	}
	if err := s.PersistAuth(ctx); err != nil {
		b.log.Warn("saving session failed", zap.Error(err))
	}
	b.log.Info("logged in")
	return nil
}

// save writes both artifacts. Empty content is an error result.
func (b *base) save(link *domain.LinkRecord, png []byte, text string, bom bool, published *time.Time) domain.CaptureResult {
	if len(png) == 0 {
		return domain.CaptureFailed("empty screenshot")
	}
	if text == "" {
		return domain.CaptureFailed("empty text")
	}
	if err := os.MkdirAll(b.opts.Dir, 0o755); err != nil {
		return domain.CaptureFailed("create capture directory: %v", err)
	}

	imgPath, txtPath := domain.ArtifactPaths(b.opts.Dir, b.platform, link.ID)
	if err := writeFile(imgPath, png); err != nil {
		return domain.CaptureFailed("write screenshot: %v", err)
	}

	data := []byte(text)
	if bom {
		encoded, err := xunicode.UTF8BOM.NewEncoder().Bytes(data)
		if err != nil {
			return domain.CaptureFailed("encode text: %v", err)
		}
		data = encoded
	}
	if err := writeFile(txtPath, data); err != nil {
		return domain.CaptureFailed("write text: %v", err)
	}

	b.log.Info("captured",
		zap.Int64("link_id", link.ID),
		zap.String("image", imgPath),
		zap.Int("text_len", len(text)),
	)
	return domain.CaptureSuccess(imgPath, txtPath, published)
}

// shoot screenshots the first selector that works, then the viewport.
func (b *base) shoot(ctx context.Context, page Page, selectors ...string) ([]byte, error) {
	for _, sel := range selectors {
		png, err := page.Screenshot(ctx, sel)
		if err == nil && len(png) > 0 {
			return png, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.log.Debug("element screenshot failed", zap.String("selector", sel), zap.Error(err))
	}
	return page.Screenshot(ctx, "")
}

// pageState reads the current URL, title and HTML.
func (b *base) pageState(ctx context.Context, page Page) (loc, title, html string, err error) {
	if loc, err = page.URL(ctx); err != nil {
		return "", "", "", fmt.Errorf("read location: %w", err)
	}
	if title, err = page.Title(ctx); err != nil {
		return "", "", "", fmt.Errorf("read title: %w", err)
	}
	if html, err = page.HTML(ctx); err != nil {
		return "", "", "", fmt.Errorf("read document: %w", err)
	}
	return loc, title, html, nil
}

// failed logs err and turns it into an error result.
func (b *base) failed(link *domain.LinkRecord, step string, err error) domain.CaptureResult {
	b.log.Warn("capture failed",
		zap.Int64("link_id", link.ID),
		zap.String("step", step),
		zap.Error(err),
	)
	return domain.CaptureFault(err, "%s: %v", step, err)
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Clean(path))
}
