// Package llm generates answer explanations with an OpenAI-compatible model.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/pastpaper/internal/bank"
	"github.com/pavelanni/pastpaper/internal/llm/prompts"
	"github.com/pavelanni/pastpaper/internal/model"
)

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
	style prompts.Style
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string, style prompts.Style) (*Client, error) {
	if !prompts.IsValidStyle(string(style)) {
		return nil, fmt.Errorf("invalid prompt style %q", style)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
		style: style,
	}, nil
}

// Ping checks that the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

type explainResponse struct {
	Explanation string `json:"explanation"`
}

// Explain asks the model why the correct option of q is correct.
func (c *Client) Explain(ctx context.Context, subject string, q bank.Question) (string, error) {
	data := prompts.ExplainData{
		Subject: subject,
		Topic:   q.Topic,
		Prompt:  q.Prompt,
		Answer:  q.Answer(),
	}
	for _, o := range q.Options() {
		data.Options = append(data.Options, prompts.Option{Label: o.Label, Text: o.Text})
	}
	prompt, err := prompts.BuildExplain(c.style, data)
	if err != nil {
		return "", err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "question_id", q.ID, "raw", raw)

	var out explainResponse
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	out.Explanation = strings.TrimSpace(out.Explanation)
	if out.Explanation == "" {
		return "", errors.New("LLM returned an empty explanation")
	}
	return out.Explanation, nil
}

// ExplainPaper fills in missing explanations and returns the updated paper
// in import form together with the number of questions changed. With
// overwrite set, existing explanations are replaced too. A failing question
// is logged and left as it was.
func (c *Client) ExplainPaper(ctx context.Context, p *bank.Paper, overwrite bool) (model.PaperImport, int, error) {
	pi := p.Import()
	changed := 0
	for i, q := range p.Questions() {
		if q.Explanation != "" && !overwrite {
			continue
		}
		if err := ctx.Err(); err != nil {
			return pi, changed, err
		}
		text, err := c.Explain(ctx, p.Subject(), q)
		if err != nil {
			slog.Warn("explanation failed", "paper_id", p.ID(), "question_id", q.ID, "error", err)
			continue
		}
		pi.Questions[i].Explanation = text
		changed++
		slog.Info("explained question", "paper_id", p.ID(), "question_id", q.ID)
	}
	return pi, changed, nil
}
