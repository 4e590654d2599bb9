// Package i18n loads the YAML message catalogs and hands out per-request
// translation functions.
package i18n

import (
	"embed"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yml
var localeFS embed.FS

// Translate looks up key (dot-separated) and fills {name} placeholders from
// params. Unknown keys are returned unchanged.
type Translate func(key string, params map[string]any) string

type Bundle struct {
	catalogs map[string]map[string]any
	locales  []string
	matcher  language.Matcher
}

// Load reads the embedded catalogs. defaultLocale is preferred when matching
// fails; it falls back to the first available locale if unknown.
func Load(defaultLocale string) (*Bundle, error) {
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}
	catalogs := make(map[string]map[string]any, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		data, err := localeFS.ReadFile(path.Join("locales", name))
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", name, err)
		}
		var dict map[string]any
		if err := yaml.Unmarshal(data, &dict); err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", name, err)
		}
		catalogs[strings.TrimSuffix(name, path.Ext(name))] = dict
	}
	return newBundle(catalogs, defaultLocale)
}

func newBundle(catalogs map[string]map[string]any, defaultLocale string) (*Bundle, error) {
	if len(catalogs) == 0 {
		return nil, fmt.Errorf("no locale catalogs")
	}
	locales := make([]string, 0, len(catalogs))
	for locale := range catalogs {
		locales = append(locales, locale)
	}
	sort.Strings(locales)
	defaultLocale = strings.ToLower(strings.TrimSpace(defaultLocale))
	if _, ok := catalogs[defaultLocale]; ok {
		// The matcher falls back to the first tag.
		for i, locale := range locales {
			if locale == defaultLocale {
				locales[0], locales[i] = locales[i], locales[0]
				break
			}
		}
	}
	tags := make([]language.Tag, 0, len(locales))
	for _, locale := range locales {
		tags = append(tags, language.Make(locale))
	}
	return &Bundle{catalogs: catalogs, locales: locales, matcher: language.NewMatcher(tags)}, nil
}

func (b *Bundle) DefaultLocale() string { return b.locales[0] }

// Match picks the best available locale for an Accept-Language header.
func (b *Bundle) Match(acceptLanguage string) string {
	prefs, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(prefs) == 0 {
		return b.DefaultLocale()
	}
	_, index, confidence := b.matcher.Match(prefs...)
	if confidence == language.No {
		return b.DefaultLocale()
	}
	return b.locales[index]
}

// Translator returns the Translate function for locale, trying the full tag,
// then its language, then the default locale.
func (b *Bundle) Translator(locale string) Translate {
	dict := b.catalog(locale)
	return func(key string, params map[string]any) string {
		value, ok := lookup(dict, key).(string)
		if !ok {
			return key
		}
		return format(value, params)
	}
}

func (b *Bundle) catalog(locale string) map[string]any {
	normalized := strings.ToLower(strings.TrimSpace(locale))
	if dict, ok := b.catalogs[normalized]; ok {
		return dict
	}
	if base, _, found := strings.Cut(normalized, "-"); found {
		if dict, ok := b.catalogs[base]; ok {
			return dict
		}
	}
	return b.catalogs[b.DefaultLocale()]
}

func lookup(dict map[string]any, key string) any {
	var current any = dict
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

var placeholder = regexp.MustCompile(`\{(.*?)\}`)

func format(value string, params map[string]any) string {
	if params == nil {
		return value
	}
	return placeholder.ReplaceAllStringFunc(value, func(match string) string {
		v := params[match[1:len(match)-1]]
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

// Identity returns keys unchanged; handy where no catalog is wired.
func Identity(key string, _ map[string]any) string { return key }
