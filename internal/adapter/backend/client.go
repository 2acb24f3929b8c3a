package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"agrolink/internal/domain/entity"
	"agrolink/pkg/errors"
	"agrolink/pkg/logger"
)

// Client is the typed adapter for the marketplace backend's REST API. It is
// the only place that sees raw payloads; response-shape ambiguity is
// normalized here and nothing past this boundary handles untyped JSON.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// conversationSummary is the backend's recent-conversation wire shape.
type conversationSummary struct {
	UserID          string `json:"userId"`
	Name            string `json:"name"`
	Picture         string `json:"picture"`
	Role            string `json:"role"`
	LastMessage     string `json:"lastMessage"`
	LastMessageTime string `json:"lastMessageTime"`
	UnreadCount     int    `json:"unreadCount"`
}

// FetchRecentConversations calls GET /messages/recent/{userId}. The backend
// is known to wrap the list under "chats", "data" or "messages" depending on
// deployment; all known shapes are accepted and anything else reads as empty.
func (c *Client) FetchRecentConversations(ctx context.Context, userID string) ([]entity.Conversation, error) {
	body, err := c.get(ctx, fmt.Sprintf("/messages/recent/%s", userID))
	if err != nil {
		return nil, err
	}

	summaries := extractSummaries(body)

	list := make([]entity.Conversation, 0, len(summaries))
	for _, s := range summaries {
		if s.UserID == "" || s.UserID == userID {
			continue
		}
		conv := entity.Conversation{
			CounterpartID: s.UserID,
			DisplayName:   s.Name,
			AvatarURL:     s.Picture,
			Role:          entity.NormalizeRole(s.Role),
			LastMessage:   s.LastMessage,
			UnreadCount:   s.UnreadCount,
			Origin:        entity.OriginRemote,
		}
		if conv.UnreadCount < 0 {
			conv.UnreadCount = 0
		}
		if ts, err := time.Parse(time.RFC3339, s.LastMessageTime); err == nil {
			conv.LastMessageAt = ts
		}
		list = append(list, conv)
	}
	return list, nil
}

// extractSummaries sniffs the payload shape: bare array first, then the known
// wrapper keys in a fixed order.
func extractSummaries(body []byte) []conversationSummary {
	var bare []conversationSummary
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil {
		logger.Warn("Backend: recent-conversations payload is neither array nor object, treating as empty")
		return nil
	}

	for _, key := range []string{"chats", "data", "messages"} {
		raw, ok := wrapped[key]
		if !ok {
			continue
		}
		var list []conversationSummary
		if err := json.Unmarshal(raw, &list); err == nil {
			return list
		}
	}

	logger.Warn("Backend: recent-conversations payload has no recognized list, treating as empty")
	return nil
}

// FetchUsers calls GET /users and returns the platform user directory.
func (c *Client) FetchUsers(ctx context.Context) ([]entity.User, error) {
	body, err := c.get(ctx, "/users")
	if err != nil {
		return nil, err
	}

	var users []entity.User
	if err := json.Unmarshal(body, &users); err != nil {
		return nil, errors.Internal("Failed to decode user directory", err)
	}

	result := users[:0]
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		u.Role = entity.NormalizeRole(u.Role)
		result = append(result, u)
	}
	return result, nil
}

// MarkMessagesRead calls PUT /notifications/read-messages/{userId}/{counterpartId}.
// Fire-and-forget side effect; failures are logged by the caller.
func (c *Client) MarkMessagesRead(ctx context.Context, userID, counterpartID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/notifications/read-messages/%s/%s", c.baseURL, userID, counterpartID), nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return errors.Unavailable(fmt.Sprintf("mark-as-read returned %d", resp.StatusCode), nil)
	}
	return nil
}

// SendMessage calls POST /messages and returns the server-confirmed message.
func (c *Client) SendMessage(ctx context.Context, msg *entity.Message) (*entity.Message, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Unavailable("Message server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return nil, errors.Unavailable(fmt.Sprintf("send returned %d", resp.StatusCode), nil)
	}

	confirmed := *msg
	body, err := io.ReadAll(resp.Body)
	if err == nil && len(body) > 0 {
		// Backend echo of the stored message is optional; keep ours on decode failure.
		var echoed entity.Message
		if err := json.Unmarshal(body, &echoed); err == nil && echoed.SenderID != "" {
			confirmed = echoed
		}
	}
	confirmed.Status = entity.StatusSent
	return &confirmed, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Unavailable("Backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return nil, errors.Unavailable(fmt.Sprintf("backend returned %d for %s", resp.StatusCode, path), nil)
	}

	return io.ReadAll(resp.Body)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
