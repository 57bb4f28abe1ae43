package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pavelanni/pastpaper/internal/bank"
	"github.com/pavelanni/pastpaper/internal/llm/prompts"
	"github.com/pavelanni/pastpaper/internal/model"
)

// fakeOpenAI answers chat completions with reply(prompt).
func fakeOpenAI(t *testing.T, reply func(prompt string) string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/models"):
			fmt.Fprint(w, `{"object":"list","data":[{"id":"test-model","object":"model"}]}`)
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			calls.Add(1)
			var req struct {
				Messages []struct {
					Content string `json:"content"`
				} `json:"messages"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			content := reply(req.Messages[0].Content)
			resp := map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 0,
				"model":   "test-model",
				"choices": []map[string]any{{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]string{"role": "assistant", "content": content},
				}},
			}
			json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testPaper(t *testing.T) *bank.Paper {
	t.Helper()
	opts := []model.OptionImport{{Label: "A", Text: "Frequency"}, {Label: "B", Text: "Wavelength"}}
	p, err := bank.NewPaper(model.PaperImport{
		ID:          "phys-2019",
		Title:       "Physics 2019",
		Subject:     "Physics",
		DurationSec: 60,
		TotalMarks:  2,
		Questions: []model.QuestionImport{
			{ID: "Q1", Prompt: "Measured in hertz?", Options: opts, Answer: "A", Marks: 1},
			{ID: "Q2", Prompt: "Measured in metres?", Options: opts, Answer: "B", Marks: 1, Explanation: "Already done."},
		},
	})
	if err != nil {
		t.Fatalf("NewPaper: %v", err)
	}
	return p
}

func TestNewRejectsStyle(t *testing.T) {
	if _, err := New("", "key", "m", prompts.Style("loud")); err == nil {
		t.Error("expected error for invalid style")
	}
}

func TestExplainPaper(t *testing.T) {
	srv, calls := fakeOpenAI(t, func(prompt string) string {
		if !strings.Contains(prompt, "Measured in hertz?") {
			t.Errorf("unexpected prompt:\n%s", prompt)
		}
		return `{"explanation": "Hertz counts cycles per second."}`
	})
	c, err := New(srv.URL+"/v1", "key", "test-model", prompts.StyleStandard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	pi, changed, err := c.ExplainPaper(context.Background(), testPaper(t), false)
	if err != nil {
		t.Fatalf("ExplainPaper: %v", err)
	}
	if changed != 1 || calls.Load() != 1 {
		t.Errorf("changed=%d calls=%d, want 1/1", changed, calls.Load())
	}
	if pi.Questions[0].Explanation != "Hertz counts cycles per second." {
		t.Errorf("Q1 explanation = %q", pi.Questions[0].Explanation)
	}
	if pi.Questions[1].Explanation != "Already done." {
		t.Errorf("existing explanation replaced: %q", pi.Questions[1].Explanation)
	}
	if _, err := bank.NewPaper(pi); err != nil {
		t.Errorf("explained paper invalid: %v", err)
	}
}

func TestExplainBadResponse(t *testing.T) {
	srv, _ := fakeOpenAI(t, func(string) string { return "not json" })
	c, _ := New(srv.URL+"/v1", "key", "test-model", prompts.StyleBrief)

	p := testPaper(t)
	if _, err := c.Explain(context.Background(), "Physics", p.At(0)); err == nil {
		t.Error("expected parse error")
	}
	_, changed, err := c.ExplainPaper(context.Background(), p, true)
	if err != nil || changed != 0 {
		t.Errorf("ExplainPaper = %d, %v; failures should be skipped", changed, err)
	}
}
