package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"livenotes/internal/domain"
	"livenotes/internal/ports"
)

const (
	DefaultBaseURL     = "http://localhost:8000"
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 1 << 20
)

// Client talks to the notes backend REST API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	now        func() time.Time
}

var _ ports.SessionAPI = (*Client)(nil)

type Option func(*Client)

func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: defaultHTTPTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(client)
	}
	return client
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.Token = strings.TrimSpace(token)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient == nil {
			return
		}
		c.HTTPClient = httpClient
	}
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: API status %d: %s", e.Status, e.Message)
}

// Template is a notes template offered when starting a meeting.
type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
}

type createSessionRequest struct {
	Title string `json:"title"`
}

type createSessionResponse struct {
	SessionID    string `json:"session_id"`
	NoteID       string `json:"note_id"`
	TranscriptID string `json:"transcript_id"`
	Title        string `json:"title"`
}

type updateNoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// CreateSession registers a new recording session with its note and transcript.
func (c *Client) CreateSession(ctx context.Context, title string) (domain.RecordingSession, error) {
	var response createSessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/sessions", createSessionRequest{Title: title}, &response); err != nil {
		return domain.RecordingSession{}, err
	}
	if strings.TrimSpace(response.SessionID) == "" {
		return domain.RecordingSession{}, errors.New("backend: create session: response has no session_id")
	}

	if strings.TrimSpace(response.Title) == "" {
		response.Title = title
	}
	return domain.RecordingSession{
		ID:           response.SessionID,
		NoteID:       response.NoteID,
		TranscriptID: response.TranscriptID,
		Title:        response.Title,
		CreatedAt:    c.now().UTC(),
	}, nil
}

func (c *Client) UpdateNote(ctx context.Context, doc domain.NotesDocument) error {
	if strings.TrimSpace(doc.NoteID) == "" {
		return errors.New("backend: update note: note id is required")
	}
	path := "/api/notes/" + url.PathEscape(doc.NoteID)
	return c.do(ctx, http.MethodPut, path, updateNoteRequest{Title: doc.Title, Content: doc.Body}, nil)
}

func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	var templates []Template
	if err := c.do(ctx, http.MethodGet, "/api/templates", nil, &templates); err != nil {
		return nil, err
	}
	if templates == nil {
		templates = []Template{}
	}
	return templates, nil
}

func (c *Client) GetTemplate(ctx context.Context, id string) (Template, error) {
	if strings.TrimSpace(id) == "" {
		return Template{}, errors.New("backend: template id is required")
	}
	var template Template
	if err := c.do(ctx, http.MethodGet, "/api/templates/"+url.PathEscape(id), nil, &template); err != nil {
		return Template{}, err
	}
	return template, nil
}

func (c *Client) do(ctx context.Context, method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var envelope struct {
		Detail  string `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	message := ""
	if err := json.Unmarshal(body, &envelope); err == nil {
		for _, candidate := range []string{envelope.Detail, envelope.Error, envelope.Message} {
			if strings.TrimSpace(candidate) != "" {
				message = strings.TrimSpace(candidate)
				break
			}
		}
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: message}
}
