package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hamzalamin/qatrat-chat-core/internal/domain"
)

// Directory loads the user directory once per session and answers
// profile lookups from the loaded cache. The cache fills in display
// fields missing from wire payloads; it is never used for routing.
type Directory struct {
	baseURL string
	token   string
	http    *http.Client
	sf      singleflight.Group

	mu       sync.RWMutex
	profiles map[string]domain.Profile
	loaded   bool
}

func NewDirectory(baseURL, token string) *Directory {
	return &Directory{
		baseURL:  baseURL,
		token:    token,
		http:     &http.Client{Timeout: 10 * time.Second},
		profiles: make(map[string]domain.Profile),
	}
}

// Load fetches the directory if it has not been fetched yet.
// Concurrent callers share one request.
func (d *Directory) Load(ctx context.Context) error {
	d.mu.RLock()
	loaded := d.loaded
	d.mu.RUnlock()
	if loaded {
		return nil
	}

	_, err, _ := d.sf.Do("directory", func() (any, error) {
		return nil, d.fetch(ctx)
	})
	return err
}

// Lookup returns the display profile for userID if the directory
// holds one.
func (d *Directory) Lookup(userID string) (domain.Profile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[userID]
	return p, ok
}

func (d *Directory) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/api/users", nil)
	if err != nil {
		return err
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("directory fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("directory fetch returned status %d", resp.StatusCode)
	}

	var users []domain.Profile
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return fmt.Errorf("decode directory response: %w", err)
	}

	d.mu.Lock()
	for _, u := range users {
		if u.ID != "" {
			d.profiles[u.ID] = u
		}
	}
	d.loaded = true
	d.mu.Unlock()

	return nil
}
