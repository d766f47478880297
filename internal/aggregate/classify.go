package aggregate

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Category is the classification bucket for an app.
type Category string

const (
	CategorySocialMedia   Category = "social_media"
	CategoryEntertainment Category = "entertainment"
	CategoryOther         Category = "other"
)

// Built-in classification tables. Config can extend these but the
// defaults cover the common packages.
var socialMediaPackages = map[string]struct{}{
	"com.instagram.android":            {},
	"com.facebook.katana":              {},
	"com.facebook.lite":                {},
	"com.twitter.android":              {},
	"com.zhiliaoapp.musically":         {},
	"com.snapchat.android":             {},
	"com.reddit.frontpage":             {},
	"com.linkedin.android":             {},
	"com.pinterest":                    {},
	"com.whatsapp":                     {},
	"org.telegram.messenger":           {},
	"com.discord":                      {},
	"com.facebook.orca":                {},
	"jp.naver.line.android":            {},
	"com.tencent.mm":                   {},
	"com.vkontakte.android":            {},
	"com.bereal.ft":                    {},
	"com.instagram.barcelona":          {},
	"com.tumblr":                       {},
	"com.ss.android.ugc.trill":         {},
}

var entertainmentPackages = map[string]struct{}{
	"com.google.android.youtube":       {},
	"com.netflix.mediaclient":          {},
	"com.spotify.music":                {},
	"com.amazon.avod.thirdpartyclient": {},
	"com.disney.disneyplus":            {},
	"com.hulu.plus":                    {},
	"tv.twitch.android.app":            {},
	"com.hbo.hbonow":                   {},
	"com.plexapp.android":              {},
	"com.soundcloud.android":           {},
	"com.audible.application":          {},
	"com.crunchyroll.crunchyroid":      {},
	"com.google.android.apps.youtube.music": {},
	"deezer.android.app":               {},
	"com.pandora.android":              {},
	"tv.pluto.android":                 {},
	"com.tubitv":                       {},
}

// Classifier resolves display names and categories for packages.
type Classifier struct {
	socialMedia   map[string]struct{}
	entertainment map[string]struct{}
	names         *lru.Cache[string, string]
}

// NewClassifier builds a classifier from the built-in tables plus any
// extra packages from configuration.
func NewClassifier(extraSocial, extraEntertainment []string) *Classifier {
	social := make(map[string]struct{}, len(socialMediaPackages)+len(extraSocial))
	for pkg := range socialMediaPackages {
		social[pkg] = struct{}{}
	}
	for _, pkg := range extraSocial {
		social[pkg] = struct{}{}
	}

	ent := make(map[string]struct{}, len(entertainmentPackages)+len(extraEntertainment))
	for pkg := range entertainmentPackages {
		ent[pkg] = struct{}{}
	}
	for _, pkg := range extraEntertainment {
		ent[pkg] = struct{}{}
	}

	// Name derivation is string churn on every aggregation pass, the
	// cache keeps the hot set of packages resolved once.
	names, _ := lru.New[string, string](1024)

	return &Classifier{
		socialMedia:   social,
		entertainment: ent,
		names:         names,
	}
}

// Category returns the bucket for a package. Social media wins over
// entertainment when a package appears in both tables.
func (c *Classifier) Category(pkg string) Category {
	if _, ok := c.socialMedia[pkg]; ok {
		return CategorySocialMedia
	}
	if _, ok := c.entertainment[pkg]; ok {
		return CategoryEntertainment
	}
	return CategoryOther
}

// knownNames covers packages whose display name does not follow from
// the package path.
var knownNames = map[string]string{
	"com.facebook.katana":              "Facebook",
	"com.facebook.orca":                "Messenger",
	"com.zhiliaoapp.musically":         "TikTok",
	"com.ss.android.ugc.trill":         "TikTok",
	"com.twitter.android":              "X",
	"com.google.android.youtube":       "YouTube",
	"com.netflix.mediaclient":          "Netflix",
	"com.amazon.avod.thirdpartyclient": "Prime Video",
	"org.telegram.messenger":           "Telegram",
	"jp.naver.line.android":            "LINE",
	"com.tencent.mm":                   "WeChat",
	"com.instagram.barcelona":          "Threads",
	"tv.twitch.android.app":            "Twitch",
	"com.hulu.plus":                    "Hulu",
	"com.disney.disneyplus":            "Disney+",
	"com.google.android.apps.youtube.music": "YouTube Music",
	"deezer.android.app":               "Deezer",
	"tv.pluto.android":                 "Pluto TV",
}

// DisplayName derives a human-readable name for a package. Known
// packages map directly; everything else falls back to the last
// meaningful path segment, title-cased.
func (c *Classifier) DisplayName(pkg string) string {
	if name, ok := c.names.Get(pkg); ok {
		return name
	}

	name, ok := knownNames[pkg]
	if !ok {
		name = deriveName(pkg)
	}
	c.names.Add(pkg, name)
	return name
}

// segments that carry no name information when trailing a package path.
var fillerSegments = map[string]struct{}{
	"android": {}, "app": {}, "apps": {}, "mobile": {}, "client": {},
	"free": {}, "lite": {}, "beta": {}, "plus": {},
}

func deriveName(pkg string) string {
	parts := strings.Split(pkg, ".")
	for i := len(parts) - 1; i >= 0; i-- {
		seg := parts[i]
		if seg == "" {
			continue
		}
		if _, filler := fillerSegments[strings.ToLower(seg)]; filler && i > 0 {
			continue
		}
		return strings.ToUpper(seg[:1]) + seg[1:]
	}
	return pkg
}
