// Package api is the client for the remote Aether HTTP API. The API is
// consumed as a black box: JSON in, JSON out, bearer token auth. Calls
// carry no client-side timeout beyond the caller's context; a pending call
// stays pending until the transport resolves it.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/h2non/filetype"
	"github.com/kingofdead6/aetherchat/internal/models"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

// History fetches the ordered message list for a room.
func (c *Client) History(ctx context.Context, roomID string) ([]models.Message, error) {
	var messages []models.Message
	err := c.get(ctx, fmt.Sprintf("/api/chats/%s/messages", roomID), &messages)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// Rooms fetches the conversation list for the authenticated user.
func (c *Client) Rooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	if err := c.get(ctx, "/api/chats", &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// SendRequest is one outgoing message. TempID is the correlation identifier
// echoed back in the confirmation. At least one of Content or Attachment
// must be set.
type SendRequest struct {
	RoomID     string
	TempID     string
	Content    string
	ReplyToID  string
	Attachment *AttachmentUpload
}

// AttachmentUpload carries the raw bytes of a single attachment. The
// content type is sniffed from the data, not trusted from the caller.
type AttachmentUpload struct {
	FileName string
	Data     []byte
}

// Send submits a new message as multipart form data and returns the
// server's confirmed message, durable identifier included.
func (c *Client) Send(ctx context.Context, req SendRequest) (models.Message, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fields := map[string]string{
		"tempId":  req.TempID,
		"content": req.Content,
	}
	if req.ReplyToID != "" {
		fields["replyTo"] = req.ReplyToID
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return models.Message{}, fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	if req.Attachment != nil {
		kind, err := filetype.Match(req.Attachment.Data)
		if err != nil || kind == filetype.Unknown {
			return models.Message{}, fmt.Errorf("unsupported attachment type for %s", req.Attachment.FileName)
		}
		part, err := w.CreateFormFile("media", req.Attachment.FileName)
		if err != nil {
			return models.Message{}, err
		}
		if _, err := part.Write(req.Attachment.Data); err != nil {
			return models.Message{}, err
		}
	}

	if err := w.Close(); err != nil {
		return models.Message{}, err
	}

	path := fmt.Sprintf("/api/chats/%s/messages", req.RoomID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return models.Message{}, err
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	var confirmed models.Message
	if err := c.do(httpReq, &confirmed); err != nil {
		return models.Message{}, err
	}
	return confirmed, nil
}

// Download streams a media attachment. The url may be absolute or relative
// to the API base. The caller owns the returned body.
func (c *Client) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	if strings.HasPrefix(url, "/") {
		url = c.baseURL + url
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("api: unexpected status %d fetching media", resp.StatusCode)
	}
	return resp.Body, nil
}

// Edit replaces the content of a confirmed message.
func (c *Client) Edit(ctx context.Context, roomID, messageID, content string) error {
	path := fmt.Sprintf("/api/chats/%s/messages/%s", roomID, messageID)
	payload := map[string]string{"content": content}
	return c.send(ctx, http.MethodPut, path, payload, nil)
}

// Delete soft-deletes a confirmed message.
func (c *Client) Delete(ctx context.Context, roomID, messageID string) error {
	path := fmt.Sprintf("/api/chats/%s/messages/%s", roomID, messageID)
	return c.send(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.send(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) send(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("api: %s (status %d)", apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("api: unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
