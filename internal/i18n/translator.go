// Package i18n renders user-facing replies from the embedded message catalogs.
package i18n

import (
	"embed"
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"

	logx "meetbot/pkg/logx"
)

//go:embed active.*.toml
var localeFS embed.FS

var catalogs = []string{"active.ru.toml", "active.en.toml"}

// Translator is a thin wrapper around go-i18n's Bundle/Localizer.
type Translator struct {
	bundle          *i18n.Bundle
	defaultLanguage language.Tag
	matcher         language.Matcher
	log             logx.Logger
}

// New loads the embedded catalogs. defaultLocale (e.g. "ru") is used when the
// user's locale is unknown or lacks a message.
func New(defaultLocale string, log logx.Logger) (*Translator, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	tag, err := language.Parse(defaultLocale)
	if err != nil {
		return nil, fmt.Errorf("i18n: default locale %q: %w", defaultLocale, err)
	}
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)
	for _, file := range catalogs {
		if _, err := bundle.LoadMessageFileFS(localeFS, file); err != nil {
			return nil, fmt.Errorf("i18n: load %s: %w", file, err)
		}
	}
	return &Translator{
		bundle:          bundle,
		defaultLanguage: tag,
		matcher:         language.NewMatcher(bundle.LanguageTags()),
		log:             log,
	}, nil
}

// Match returns the supported language closest to locale.
func (t *Translator) Match(locale string) string {
	if locale == "" {
		return t.defaultLanguage.String()
	}
	tag, _, conf := t.matcher.Match(language.Make(locale))
	if conf == language.No {
		return t.defaultLanguage.String()
	}
	base, _ := tag.Base()
	return base.String()
}

func (t *Translator) Default() string { return t.defaultLanguage.String() }

// T renders the message identified by key for locale. Missing messages fall
// back to the default locale, then to the key itself.
func (t *Translator) T(locale, key string, data map[string]any) string {
	if key == "" {
		return ""
	}
	languages := make([]string, 0, 2)
	if locale != "" {
		languages = append(languages, locale)
	}
	languages = append(languages, t.defaultLanguage.String())

	msg, err := i18n.NewLocalizer(t.bundle, languages...).Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: data,
	})
	if err != nil {
		t.log.Warn("localize failed", logx.String("key", key), logx.String("locale", locale), logx.Err(err))
		return key
	}
	return msg
}
