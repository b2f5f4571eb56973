// Package gemini implements the content synthesizer on top of the Gemini
// generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sha256news/internal/config"
	"sha256news/internal/domain"
	"sha256news/internal/ports"
)

// Client turns a group of news items into one long-form analytical article.
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	focusAngle string
	httpClient *http.Client
}

var _ ports.Synthesizer = (*Client)(nil)

// NewClient builds a client from configuration.
func NewClient(cfg config.GeminiConfig) *Client {
	return &Client{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		focusAngle: cfg.FocusAngle,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// articlePayload is the JSON shape the model is instructed to return.
type articlePayload struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	KeyInsights []string `json:"key_insights"`
	Content     string   `json:"content"`
	Tags        []string `json:"tags"`
}

// Synthesize posts a grouped prompt and parses the structured article reply.
func (c *Client) Synthesize(ctx context.Context, items []domain.NewsItem) (domain.Article, error) {
	if c.apiKey == "" || c.model == "" || c.endpoint == "" {
		return domain.Article{}, &domain.SynthesisError{Reason: "gemini client misconfigured"}
	}
	if len(items) == 0 {
		return domain.Article{}, &domain.SynthesisError{Reason: "empty source group"}
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: c.buildPrompt(items)}}}},
	})
	if err != nil {
		return domain.Article{}, &domain.SynthesisError{Reason: "marshal request", Err: err}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.endpoint, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Article{}, &domain.SynthesisError{Reason: "new request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Article{}, &domain.SynthesisError{Reason: "call gemini", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Article{}, &domain.SynthesisError{
			Reason: fmt.Sprintf("gemini error %s: %s", resp.Status, strings.TrimSpace(string(detail))),
		}
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.Article{}, &domain.SynthesisError{Reason: "decode response", Err: err}
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return domain.Article{}, &domain.SynthesisError{Reason: "empty candidate"}
	}

	payload, err := parseArticle(decoded.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return domain.Article{}, &domain.SynthesisError{Reason: "parse article", Err: err}
	}
	if payload.Title == "" || payload.Content == "" {
		return domain.Article{}, &domain.SynthesisError{Reason: "article missing title or content"}
	}

	return domain.Article{
		Title:       payload.Title,
		Summary:     payload.Summary,
		KeyInsights: payload.KeyInsights,
		Body:        payload.Content,
		Tags:        payload.Tags,
	}, nil
}

func (c *Client) buildPrompt(items []domain.NewsItem) string {
	var b strings.Builder
	b.WriteString("You are a Bitcoin mining industry analyst. Synthesize the following news items ")
	b.WriteString("into one comprehensive analytical article focused on: ")
	b.WriteString(c.focusAngle)
	b.WriteString(".\n\nRespond with a single JSON object with fields: ")
	b.WriteString(`"title", "summary", "key_insights" (array of strings), "content" (markdown), "tags" (array of strings).`)
	b.WriteString("\n\nSource items:\n")

	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s (%s)\n%s\n\n", i+1, item.Title, item.SourceURL, item.Body)
	}
	return b.String()
}

// parseArticle tolerates markdown code fences around the JSON reply.
func parseArticle(text string) (articlePayload, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var payload articlePayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return articlePayload{}, fmt.Errorf("unmarshal article payload: %w", err)
	}
	return payload, nil
}
