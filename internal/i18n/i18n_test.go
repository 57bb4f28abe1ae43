package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "AppTitle"); got != "Past Paper Practice" {
		t.Errorf("T(AppTitle) = %q, want 'Past Paper Practice'", got)
	}
	if got := T(ctx, "ErrCouldNotSubmit"); got != "Could not submit your answers. Please retry." {
		t.Errorf("T(ErrCouldNotSubmit) = %q", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	if got := T(ctx, "VerdictCorrect"); got != "Верно" {
		t.Errorf("T(VerdictCorrect) = %q, want 'Верно'", got)
	}
	if got := Tp(ctx, "QuestionsCorrect", 5); got != "5 верных ответов" {
		t.Errorf("Tp(QuestionsCorrect, 5) = %q", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "QuestionsCorrect", 1); got != "1 question correct" {
		t.Errorf("Tp(QuestionsCorrect, 1) = %q, want '1 question correct'", got)
	}
	if got := Tp(ctx, "QuestionsCorrect", 3); got != "3 questions correct" {
		t.Errorf("Tp(QuestionsCorrect, 3) = %q, want '3 questions correct'", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Td(ctx, "QuestionN", map[string]any{"N": 7}); got != "Question 7" {
		t.Errorf("Td(QuestionN, N=7) = %q, want 'Question 7'", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestSupported(t *testing.T) {
	initLang(t, "en")
	if !Supported("ru") || !Supported("en") {
		t.Error("expected en and ru to be supported")
	}
	if Supported("de") {
		t.Error("de has no locale file")
	}
}

func TestMiddlewareNegotiates(t *testing.T) {
	initLang(t, "en")

	tests := []struct {
		accept string
		want   string
		title  string
	}{
		{"", "en", "Past Paper Practice"},
		{"ru-RU,ru;q=0.9", "ru", "Тренажёр по экзаменационным вариантам"},
		{"de", "en", "Past Paper Practice"},
	}
	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			var lang, title string
			h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				lang = Lang(r.Context())
				title = T(r.Context(), "AppTitle")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if lang != tt.want || title != tt.title {
				t.Errorf("lang=%q title=%q, want %q %q", lang, title, tt.want, tt.title)
			}
		})
	}
}
