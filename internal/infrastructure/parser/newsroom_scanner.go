package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"sha256news/internal/domain"
	"sha256news/internal/scanner"
)

// Selector options understood by the newsroom scanner. Listing pages differ
// per publisher, so every selector can be overridden from config.
const (
	optionURL          = "url"
	optionItemSelector = "itemSelector"
	optionTitle        = "titleSelector"
	optionSummary      = "summarySelector"
	optionLink         = "linkSelector"
	optionDate         = "dateSelector"
	optionDateFormat   = "dateFormat"
)

// NewsroomScanner crawls a mining publisher's HTML listing page and extracts
// recent items.
type NewsroomScanner struct {
	client *http.Client
}

var _ scanner.Scanner = (*NewsroomScanner)(nil)

// NewNewsroomScanner wires an HTTP client.
func NewNewsroomScanner(client *http.Client) *NewsroomScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &NewsroomScanner{client: client}
}

// Name identifies the strategy inside the registry.
func (n *NewsroomScanner) Name() string {
	return "newsroom"
}

// Scan fetches the listing page and extracts up to MaxItems entries published
// within the requested window.
func (n *NewsroomScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.NewsItem, error) {
	pageURL := req.Options[optionURL]
	if pageURL == "" {
		return nil, fmt.Errorf("source %s: url option is required", req.SourceName)
	}

	doc, err := n.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", req.SourceName, err)
	}

	cutoff := time.Time{}
	if req.DaysBack > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -req.DaysBack)
	}

	items := extractItems(doc, pageURL, req, cutoff)
	if max := req.MaxItems; max > 0 && len(items) > max {
		items = items[:max]
	}
	return items, nil
}

func (n *NewsroomScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "sha256news/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("newsroom returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func extractItems(doc *goquery.Document, pageURL string, req scanner.Request, cutoff time.Time) []domain.NewsItem {
	itemSelector := option(req.Options, optionItemSelector, "article")
	titleSelector := option(req.Options, optionTitle, "h2 a")
	summarySelector := option(req.Options, optionSummary, "p")
	linkSelector := option(req.Options, optionLink, "h2 a")
	dateSelector := option(req.Options, optionDate, "time")
	dateFormat := option(req.Options, optionDateFormat, time.RFC3339)

	var items []domain.NewsItem
	seen := map[string]struct{}{}

	doc.Find(itemSelector).Each(func(i int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Find(titleSelector).First().Text())
		if title == "" {
			return
		}

		href, _ := sel.Find(linkSelector).First().Attr("href")
		link := resolveLink(pageURL, href)
		if link == "" {
			return
		}
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}

		publishedAt := time.Now().UTC()
		dateNode := sel.Find(dateSelector).First()
		dateText, hasAttr := dateNode.Attr("datetime")
		if !hasAttr {
			dateText = strings.TrimSpace(dateNode.Text())
		}
		if dateText != "" {
			if parsed, err := time.Parse(dateFormat, dateText); err == nil {
				publishedAt = parsed
			}
		}
		if !cutoff.IsZero() && publishedAt.Before(cutoff) {
			return
		}

		items = append(items, domain.NewsItem{
			ExternalID:  link,
			Title:       title,
			Body:        strings.TrimSpace(sel.Find(summarySelector).First().Text()),
			SourceURL:   link,
			Source:      req.SourceName,
			PublishedAt: publishedAt,
		})
	})

	return items
}

func resolveLink(pageURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http") {
		return href
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func option(options map[string]string, key, fallback string) string {
	if value, ok := options[key]; ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
