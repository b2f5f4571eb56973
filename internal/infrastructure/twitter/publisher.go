// Package twitter posts an announcement thread for each published article.
package twitter

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

const tweetLimit = 280

// Publisher chains reply tweets into a thread summarizing the article.
type Publisher struct {
	apiBase    string
	bearer     string
	maxTweets  int
	articleURL func(article domain.Article) string
	httpClient *http.Client
}

var _ ports.Publisher = (*Publisher)(nil)

// NewPublisher builds a publisher from configuration. articleURL resolves
// the canonical page URL announced in the final tweet.
func NewPublisher(cfg config.TwitterConfig, articleURL func(domain.Article) string) *Publisher {
	maxTweets := cfg.MaxTweets
	if maxTweets <= 0 {
		maxTweets = 10
	}
	return &Publisher{
		apiBase:    strings.TrimSuffix(cfg.APIBase, "/"),
		bearer:     cfg.BearerToken,
		maxTweets:  maxTweets,
		articleURL: articleURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Name identifies the target in configuration and run records.
func (p *Publisher) Name() string {
	return "twitter"
}

// Publish posts the thread. The thread URL of the first tweet becomes the
// external reference.
func (p *Publisher) Publish(ctx context.Context, article domain.Article) (domain.PublicationRecord, error) {
	if p.bearer == "" {
		return domain.PublicationRecord{}, &domain.PublicationError{
			Target: p.Name(), Reason: "twitter publisher misconfigured",
		}
	}

	var pageURL string
	if p.articleURL != nil {
		pageURL = p.articleURL(article)
	}

	tweets := composeThread(article, pageURL, p.maxTweets)

	var (
		firstID    string
		previousID string
	)
	for _, text := range tweets {
		id, err := p.postTweet(ctx, text, previousID)
		if err != nil {
			return domain.PublicationRecord{}, &domain.PublicationError{
				Target: p.Name(), Reason: domain.ReasonPublishError, Err: err,
			}
		}
		if firstID == "" {
			firstID = id
		}
		previousID = id
	}

	return domain.PublicationRecord{
		Target:      p.Name(),
		ArticleID:   article.ID,
		ExternalRef: "https://twitter.com/i/web/status/" + firstID,
		PublishedAt: time.Now().UTC(),
		Success:     true,
	}, nil
}

func (p *Publisher) postTweet(ctx context.Context, text, inReplyTo string) (string, error) {
	payload := map[string]any{"text": text}
	if inReplyTo != "" {
		payload["reply"] = map[string]string{"in_reply_to_tweet_id": inReplyTo}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal tweet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post tweet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("twitter error %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var decoded struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode tweet response: %w", err)
	}
	if decoded.Data.ID == "" {
		return "", fmt.Errorf("tweet response missing id")
	}
	return decoded.Data.ID, nil
}

// composeThread builds intro, insight, and closing tweets, clamped to the
// platform character limit and the configured thread cap.
func composeThread(article domain.Article, pageURL string, maxTweets int) []string {
	var tweets []string

	intro := "New Bitcoin Mining Analysis!\n\n" + clip(article.Summary, 200) + "\n\nThread below"
	tweets = append(tweets, clampTweet(intro))

	if len(article.KeyInsights) > 0 {
		var b strings.Builder
		b.WriteString("Key insights:\n")
		for i, insight := range article.KeyInsights {
			if i == 3 {
				break
			}
			b.WriteString("\n- " + insight)
		}
		tweets = append(tweets, clampTweet(b.String()))
	}

	closing := "Read the full analysis:\n" + pageURL + "\n\n#Bitcoin #Mining #SHA256News"
	tweets = append(tweets, clampTweet(closing))

	if len(tweets) > maxTweets {
		tweets = tweets[:maxTweets]
	}
	return tweets
}

func clip(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func clampTweet(text string) string {
	runes := []rune(text)
	if len(runes) <= tweetLimit {
		return text
	}
	return string(runes[:tweetLimit-3]) + "..."
}
