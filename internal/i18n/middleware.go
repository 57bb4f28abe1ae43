package i18n

import (
	"net/http"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Middleware injects a localizer into every request context. The request's
// Accept-Language header wins over the server default lang when the bundle
// has a matching translation.
func Middleware(lang string) func(http.Handler) http.Handler {
	matcher := language.NewMatcher(bundle.LanguageTags())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accept := r.Header.Get("Accept-Language")
			tag, _ := language.MatchStrings(matcher, accept, lang)
			base, _ := tag.Base()
			loc := i18n.NewLocalizer(bundle, base.String(), lang)
			ctx := WithLang(WithLocalizer(r.Context(), loc), base.String())
			w.Header().Set("Content-Language", base.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
