// Package github publishes articles to a GitHub Pages repository and opens a
// companion issue for each published piece.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"sha256news/internal/config"
	"sha256news/internal/domain"
	"sha256news/internal/ports"
)

var (
	slugStrip    = regexp.MustCompile(`[^\w\s-]`)
	slugCollapse = regexp.MustCompile(`[-\s]+`)
)

// Publisher commits article markdown into the Pages branch via the contents
// API. Create-or-update keyed by file path makes a repeat publish of the same
// article an update, not a duplicate.
type Publisher struct {
	apiBase     string
	token       string
	owner       string
	repo        string
	branch      string
	pagesPath   string
	createIssue bool
	httpClient  *http.Client
	logger      *slog.Logger
	now         func() time.Time
}

var _ ports.Publisher = (*Publisher)(nil)

// NewPublisher builds a publisher from configuration.
func NewPublisher(cfg config.GitHubConfig, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		apiBase:     strings.TrimSuffix(cfg.APIBase, "/"),
		token:       cfg.Token,
		owner:       cfg.Owner,
		repo:        cfg.Repo,
		branch:      cfg.Branch,
		pagesPath:   cfg.PagesPath,
		createIssue: cfg.CreateIssue,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      log,
		now:         time.Now,
	}
}

// Name identifies the target in configuration and run records.
func (p *Publisher) Name() string {
	return "github"
}

// Publish commits the article and, when enabled, opens the discussion issue.
// Issue failures are non-fatal: the page is the publication of record.
func (p *Publisher) Publish(ctx context.Context, article domain.Article) (domain.PublicationRecord, error) {
	if p.token == "" || p.owner == "" || p.repo == "" {
		return domain.PublicationRecord{}, &domain.PublicationError{
			Target: p.Name(), Reason: "github publisher misconfigured",
		}
	}

	filename := p.filename(article.Title)
	filePath := fmt.Sprintf("%s/articles/%s", p.pagesPath, filename)
	full := p.frontMatter(article) + "\n" + article.Body

	if err := p.putContents(ctx, filePath, article.Title, full); err != nil {
		return domain.PublicationRecord{}, &domain.PublicationError{
			Target: p.Name(), Reason: domain.ReasonPublishError, Err: err,
		}
	}

	articleURL := p.ArticleURL(article)

	if p.createIssue {
		if err := p.openIssue(ctx, article, articleURL); err != nil {
			// Page committed; the issue is best-effort.
			p.logger.Warn("create article issue", "article", article.ID, "error", err)
		}
	}

	return domain.PublicationRecord{
		Target:      p.Name(),
		ArticleID:   article.ID,
		ExternalRef: articleURL,
		PublishedAt: p.now().UTC(),
		Success:     true,
	}, nil
}

// ArticleURL returns the canonical Pages URL an article is served from.
func (p *Publisher) ArticleURL(article domain.Article) string {
	filename := p.filename(article.Title)
	return fmt.Sprintf("https://%s.github.io/%s/articles/%s",
		p.owner, p.repo, strings.TrimSuffix(filename, ".md")+".html")
}

// putContents creates the file or updates it in place when it already exists.
func (p *Publisher) putContents(ctx context.Context, filePath, title, content string) error {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s", p.apiBase, p.owner, p.repo, filePath)

	sha, exists, err := p.existingSHA(ctx, endpoint)
	if err != nil {
		return err
	}

	message := "Publish article: " + title
	if exists {
		message = "Update article: " + title
	}

	payload := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  p.branch,
	}
	if exists {
		payload["sha"] = sha
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal contents payload: %w", err)
	}

	resp, err := p.do(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("github error %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}

func (p *Publisher) existingSHA(ctx context.Context, endpoint string) (string, bool, error) {
	resp, err := p.do(ctx, http.MethodGet, endpoint+"?ref="+p.branch, nil)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("github error %s", resp.Status)
	}

	var decoded struct {
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", false, fmt.Errorf("decode contents response: %w", err)
	}
	return decoded.SHA, true, nil
}

func (p *Publisher) openIssue(ctx context.Context, article domain.Article, articleURL string) error {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/issues", p.apiBase, p.owner, p.repo)

	labels := []string{"article", "automated", "bitcoin-mining"}
	for i, tag := range article.Tags {
		if i == 3 {
			break
		}
		labels = append(labels, "tag:"+tag)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "## New Bitcoin Mining Article Published\n\n")
	fmt.Fprintf(&body, "**Article Title:** %s\n", article.Title)
	fmt.Fprintf(&body, "**Published URL:** %s\n", articleURL)
	fmt.Fprintf(&body, "**Tags:** %s\n", strings.Join(article.Tags, ", "))
	fmt.Fprintf(&body, "**Published Date:** %s UTC\n\n", p.now().UTC().Format("2006-01-02 15:04:05"))
	body.WriteString("Use this issue to discuss the article, suggest improvements, or report problems.\n")

	payload, err := json.Marshal(map[string]any{
		"title":  "New Article: " + article.Title,
		"body":   body.String(),
		"labels": labels,
	})
	if err != nil {
		return fmt.Errorf("marshal issue payload: %w", err)
	}

	resp, err := p.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("github error %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}

func (p *Publisher) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

// filename builds the Jekyll post name: date prefix plus a slug capped at 50
// characters.
func (p *Publisher) filename(title string) string {
	slug := strings.ToLower(title)
	slug = slugStrip.ReplaceAllString(slug, "")
	slug = slugCollapse.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 50 {
		slug = strings.TrimRight(slug[:50], "-")
	}
	return p.now().UTC().Format("2006-01-02") + "-" + slug + ".md"
}

func (p *Publisher) frontMatter(article domain.Article) string {
	tags, _ := json.Marshal(article.Tags)
	return fmt.Sprintf(`---
layout: post
title: %q
date: %s +0000
categories: [bitcoin, mining]
tags: %s
author: SHA256-News
description: "Automated Bitcoin mining industry analysis and insights"
---`, article.Title, p.now().UTC().Format("2006-01-02 15:04:05"), string(tags))
}
