package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed *.txt
var files embed.FS

var systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)

// Style selects an explanation prompt.
type Style string

const (
	StyleBrief    Style = "brief"
	StyleStandard Style = "standard"
	StyleDetailed Style = "detailed"
)

var validStyles = map[Style]bool{
	StyleBrief:    true,
	StyleStandard: true,
	StyleDetailed: true,
}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Style]*template.Template
)

// IsValidStyle checks if a style name is valid.
func IsValidStyle(s string) bool {
	return validStyles[Style(s)]
}

// Option is one answer choice as shown in the prompt.
type Option struct {
	Label string
	Text  string
}

// ExplainData holds template data for explanation prompts.
type ExplainData struct {
	Subject string
	Topic   string
	Prompt  string
	Options []Option
	Answer  string
}

func load() error {
	loadOnce.Do(func() {
		templates = make(map[Style]*template.Template)
		for s := range validStyles {
			name := "explain_" + string(s) + ".txt"
			content, err := files.ReadFile(name)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", name, err)
				return
			}
			tmpl, err := template.New(name).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", name, err)
				return
			}
			templates[s] = tmpl
		}
	})
	return loadErr
}

// BuildExplain renders the explanation prompt for a question. Question and
// option text come from imported papers, so instruction markers are stripped.
func BuildExplain(style Style, data ExplainData) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	tmpl, ok := templates[style]
	if !ok {
		return "", errors.New("invalid prompt style: " + string(style))
	}

	data.Prompt = sanitize(data.Prompt)
	opts := make([]Option, len(data.Options))
	for i, o := range data.Options {
		opts[i] = Option{Label: o.Label, Text: sanitize(o.Text)}
	}
	data.Options = opts

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitize(text string) string {
	text = systemInstructionsRegex.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > 4000 {
		runes := []rune(text)
		text = string(runes[:4000]) + " [truncated]"
	}
	return text
}
