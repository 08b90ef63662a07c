// Package client holds the REST clients for the history and user
// directory services.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hamzalamin/qatrat-chat-core/internal/domain"
)

// HistoryClient fetches the stored conversation history for a
// counterpart. The result becomes the initial conversation buffer
// before any live merge happens.
type HistoryClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHistoryClient(baseURL, token string) *HistoryClient {
	return &HistoryClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// GetHistory returns the messages exchanged with counterpartID,
// normalized and in server order.
func (c *HistoryClient) GetHistory(ctx context.Context, counterpartID string) ([]domain.ChatMessage, error) {
	endpoint := fmt.Sprintf("%s/api/messages/%s", c.baseURL, url.PathEscape(counterpartID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history fetch returned status %d", resp.StatusCode)
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode history response: %w", err)
	}

	now := time.Now().UTC()
	messages := make([]domain.ChatMessage, 0, len(raw))
	for _, body := range raw {
		msg, err := domain.Normalize(body, now)
		if err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
