package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/victorivanov/commsync/internal/models"
)

const (
	defaultRequestTimeout = 10 * time.Second
	apiPrefix             = "/api/comms"
)

// Fallback is the request/response side of the transport.
type Fallback interface {
	ListChannels(ctx context.Context) ([]models.ChannelSummary, error)
	History(ctx context.Context, channelID string, q HistoryQuery) ([]models.Message, error)
	Presence(ctx context.Context) ([]models.Presence, error)
	CreateMessage(ctx context.Context, channelID string, in NewMessage) (*models.Message, error)
	UpdateMessage(ctx context.Context, messageID, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) (*models.MessageRef, error)
	ToggleReaction(ctx context.Context, messageID, emoji string) (*models.Message, error)
	SetPinned(ctx context.Context, messageID string, pinned bool) (*models.Message, error)
}

// HistoryQuery pages through a channel's history. Zero values ask for the
// newest page with the server's default size.
type HistoryQuery struct {
	Limit  int
	Before time.Time
}

// NewMessage is the body of a create-message request.
type NewMessage struct {
	Content        string              `json:"content"`
	ThreadParentID *string             `json:"threadParentId,omitempty"`
	Attachments    []models.Attachment `json:"attachments,omitempty"`
	Metadata       models.Metadata     `json:"metadata"`
}

// API is the HTTP implementation of Fallback.
type API struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPI creates an API client for the server at baseURL. A nil httpClient
// gets one with a default timeout.
func NewAPI(baseURL, token string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// ListChannels handles GET /api/comms/channels.
func (a *API) ListChannels(ctx context.Context) ([]models.ChannelSummary, error) {
	var out struct {
		Channels []models.ChannelSummary `json:"channels"`
	}
	if err := a.do(ctx, http.MethodGet, "/channels", nil, &out); err != nil {
		return nil, err
	}
	return out.Channels, nil
}

// History handles GET /api/comms/channels/:id/messages.
func (a *API) History(ctx context.Context, channelID string, q HistoryQuery) ([]models.Message, error) {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if !q.Before.IsZero() {
		params.Set("cursor", q.Before.UTC().Format(time.RFC3339Nano))
	}
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var out struct {
		Messages []models.Message `json:"messages"`
	}
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// Presence handles GET /api/comms/presence.
func (a *API) Presence(ctx context.Context) ([]models.Presence, error) {
	var out struct {
		Presence []models.Presence `json:"presence"`
	}
	if err := a.do(ctx, http.MethodGet, "/presence", nil, &out); err != nil {
		return nil, err
	}
	return out.Presence, nil
}

// CreateMessage handles POST /api/comms/channels/:id/messages.
func (a *API) CreateMessage(ctx context.Context, channelID string, in NewMessage) (*models.Message, error) {
	return a.message(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/messages", in)
}

// UpdateMessage handles PATCH /api/comms/messages/:id.
func (a *API) UpdateMessage(ctx context.Context, messageID, content string) (*models.Message, error) {
	body := map[string]string{"content": content}
	return a.message(ctx, http.MethodPatch, "/messages/"+url.PathEscape(messageID), body)
}

// DeleteMessage handles DELETE /api/comms/messages/:id.
func (a *API) DeleteMessage(ctx context.Context, messageID string) (*models.MessageRef, error) {
	var out models.MessageRef
	if err := a.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToggleReaction handles POST /api/comms/messages/:id/reactions.
func (a *API) ToggleReaction(ctx context.Context, messageID, emoji string) (*models.Message, error) {
	body := map[string]string{"emoji": emoji}
	return a.message(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/reactions", body)
}

// SetPinned handles POST /api/comms/messages/:id/pin.
func (a *API) SetPinned(ctx context.Context, messageID string, pinned bool) (*models.Message, error) {
	body := map[string]bool{"isPinned": pinned}
	return a.message(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/pin", body)
}

func (a *API) message(ctx context.Context, method, path string, body any) (*models.Message, error) {
	var out struct {
		Message *models.Message `json:"message"`
	}
	if err := a.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	if out.Message == nil {
		return nil, fmt.Errorf("%s %s: response has no message: %w", method, path, ErrRejected)
	}
	return out.Message, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+apiPrefix+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var envelope ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&envelope); err == nil && envelope.Error.Message != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}
