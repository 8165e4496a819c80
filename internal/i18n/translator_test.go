package i18n

import (
	"strings"
	"testing"

	logx "meetbot/pkg/logx"
)

func TestTranslate(t *testing.T) {
	t.Parallel()
	tr, err := New("ru", logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		locale string
		key    string
		data   map[string]any
		want   string
	}{
		{locale: "en", key: "talk_not_live", want: "This talk is not currently active"},
		{locale: "ru", key: "talk_not_live", want: "Этот доклад сейчас не идёт"},
		{locale: "", key: "btn_login", want: "Войти"},
		{locale: "de", key: "btn_login", want: "Войти"},
		{locale: "en", key: "promoted", data: map[string]any{"Name": "Ann"}, want: "Ann is now a speaker"},
		{locale: "en", key: "no_such_key", want: "no_such_key"},
	}
	for _, tt := range tests {
		if got := tr.T(tt.locale, tt.key, tt.data); got != tt.want {
			t.Fatalf("T(%q, %q) = %q, want %q", tt.locale, tt.key, got, tt.want)
		}
	}
}

func TestMatch(t *testing.T) {
	t.Parallel()
	tr, err := New("ru", logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	for in, want := range map[string]string{"en-US": "en", "ru": "ru", "": "ru", "xx": "ru"} {
		if got := tr.Match(in); got != want {
			t.Fatalf("Match(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCatalogsHaveSameKeys(t *testing.T) {
	t.Parallel()
	keys := func(file string) map[string]bool {
		b, err := localeFS.ReadFile(file)
		if err != nil {
			t.Fatal(err)
		}
		out := map[string]bool{}
		for _, line := range strings.Split(string(b), "\n") {
			if k, _, ok := strings.Cut(line, " = "); ok {
				out[k] = true
			}
		}
		return out
	}
	en, ru := keys("active.en.toml"), keys("active.ru.toml")
	for k := range en {
		if !ru[k] {
			t.Fatalf("key %q missing in ru catalog", k)
		}
	}
	for k := range ru {
		if !en[k] {
			t.Fatalf("key %q missing in en catalog", k)
		}
	}
}

func TestNewRejectsBadLocale(t *testing.T) {
	t.Parallel()
	if _, err := New("not a locale!", logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}
