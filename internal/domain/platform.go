package domain

import (
	"net/url"
	"strings"
)

// Platform identifies the social network a link belongs to.
type Platform int

const (
	PlatformUnknown Platform = iota
	PlatformInstagram
	PlatformTwitter
	PlatformFacebook
)

// Vehicle codes expected by the ingestion step.
const (
	vehicleInstagram int64 = 54108
	vehicleTwitter   int64 = 98411
	vehicleFacebook  int64 = 24247
	vehicleFallback  int64 = 70963
)

type route struct {
	platform Platform
	domains  []string
}

// routes is checked in order; the first match wins.
var routes = []route{
	{PlatformInstagram, []string{"instagram.com", "instagr.am"}},
	{PlatformTwitter, []string{"twitter.com", "x.com"}},
	{PlatformFacebook, []string{"facebook.com", "fb.com", "fb.watch"}},
}

// Platforms lists every routable platform.
func Platforms() []Platform {
	out := make([]Platform, 0, len(routes))
	for _, r := range routes {
		out = append(out, r.platform)
	}
	return out
}

func (p Platform) String() string {
	switch p {
	case PlatformInstagram:
		return "instagram"
	case PlatformTwitter:
		return "twitter"
	case PlatformFacebook:
		return "facebook"
	default:
		return "unknown"
	}
}

// Label is the human readable platform name.
func (p Platform) Label() string {
	switch p {
	case PlatformInstagram:
		return "Instagram"
	case PlatformTwitter:
		return "Twitter"
	case PlatformFacebook:
		return "Facebook"
	default:
		return "Unknown"
	}
}

// HomeURL is the page used for login checks.
func (p Platform) HomeURL() string {
	switch p {
	case PlatformInstagram:
		return "https://www.instagram.com/"
	case PlatformTwitter:
		return "https://x.com/home"
	case PlatformFacebook:
		return "https://www.facebook.com/"
	default:
		return ""
	}
}

// Domains returns the host suffixes that route to p.
func (p Platform) Domains() []string {
	for _, r := range routes {
		if r.platform == p {
			return append([]string(nil), r.domains...)
		}
	}
	return nil
}

// Route classifies a post URL. It returns ErrUnroutable when no platform matches.
func Route(rawURL string) (Platform, error) {
	host := hostOf(rawURL)
	if host == "" {
		return PlatformUnknown, ErrUnroutable
	}
	for _, r := range routes {
		for _, d := range r.domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return r.platform, nil
			}
		}
	}
	return PlatformUnknown, ErrUnroutable
}

func hostOf(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

// ParsePlatform resolves an operator supplied platform name such as
// "Instagram", "x" or "x.com".
func ParsePlatform(name string) (Platform, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case n == "":
		return PlatformUnknown, false
	case strings.Contains(n, "instagram"):
		return PlatformInstagram, true
	case strings.Contains(n, "twitter"), n == "x", strings.Contains(n, "x.com"):
		return PlatformTwitter, true
	case strings.Contains(n, "facebook"), n == "fb", strings.Contains(n, "fb.com"), strings.Contains(n, "fb.watch"):
		return PlatformFacebook, true
	default:
		return PlatformUnknown, false
	}
}

// OverrideVehicleCode is the vehicle code the ingestion step expects for p.
// It returns zero for unknown platforms.
func OverrideVehicleCode(p Platform) int64 {
	switch p {
	case PlatformInstagram:
		return vehicleInstagram
	case PlatformTwitter:
		return vehicleTwitter
	case PlatformFacebook:
		return vehicleFacebook
	default:
		return 0
	}
}

// FallbackVehicleCode is the generic social media vehicle.
func FallbackVehicleCode() int64 {
	return vehicleFallback
}
