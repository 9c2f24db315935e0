// Package feed fetches pages of articles from the backend over PostgREST.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"newsstand/internal/domain/content"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

const tableName = "articles"

var _ content.Fetcher = (*Client)(nil)

// Client implements content.Fetcher using the Supabase Go SDK.
type Client struct {
	client *supa.Client
}

// NewClient creates a Supabase-backed article fetcher.
func NewClient(supabaseURL, anonKey string) (*Client, error) {
	client, err := supa.NewClient(supabaseURL, anonKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}
	return &Client{client: client}, nil
}

// articleRow is the internal representation for PostgREST responses.
type articleRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Summary     string `json:"summary"`
	Body        string `json:"body"`
	URL         string `json:"url"`
	ImageURL    string `json:"image_url"`
	Category    string `json:"category"`
	Breaking    bool   `json:"is_breaking"`
	PublishedAt string `json:"published_at"`
}

// FetchLatest returns up to limit articles ordered newest first.
func (c *Client) FetchLatest(ctx context.Context, limit int) ([]content.Article, error) {
	if limit <= 0 {
		limit = 20
	}

	query := c.client.From(tableName).
		Select("*", "exact", false).
		Order("published_at", &postgrest.OrderOpts{Ascending: false}).
		Range(0, limit-1, "")

	data, _, err := query.Execute()
	if err != nil {
		return nil, fmt.Errorf("fetching articles: %w", err)
	}

	var rows []articleRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing article list: %w", err)
	}

	articles := make([]content.Article, len(rows))
	for i, row := range rows {
		articles[i] = rowToArticle(&row)
	}
	return articles, nil
}

// rowToArticle converts an articleRow to a content.Article.
func rowToArticle(row *articleRow) content.Article {
	a := content.Article{
		ID:       row.ID,
		Title:    row.Title,
		Summary:  row.Summary,
		Body:     row.Body,
		URL:      row.URL,
		ImageURL: row.ImageURL,
		Category: row.Category,
		Breaking: row.Breaking,
	}
	if row.PublishedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, row.PublishedAt); err == nil {
			a.PublishedAt = t
		}
	}
	return a
}
