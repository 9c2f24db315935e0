package content

import "time"

// Article is a single content item delivered by the backend.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	Body        string    `json:"body,omitempty"`
	URL         string    `json:"url,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Category    string    `json:"category,omitempty"`
	Breaking    bool      `json:"is_breaking,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}
