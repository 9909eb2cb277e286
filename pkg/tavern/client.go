// Copyright 2024-2026 Aiku AI

package tavern

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
)

// Flavor selects which server contract the client speaks.
type Flavor string

const (
	// FlavorModern uses the /api/chats/* routes without CSRF.
	FlavorModern Flavor = "modern"
	// FlavorLegacy uses the /api/get and /api/save routes and sends a CSRF
	// token with every POST.
	FlavorLegacy Flavor = "legacy"
)

// maxErrorBody is how much of a failed response body is kept in an APIError.
const maxErrorBody = 512

var (
	// ErrSaveRejected is returned when the save call answers with a result
	// other than "ok".
	ErrSaveRejected = errors.New("tavern rejected chat save")
	// ErrUnsupported is returned for calls the configured flavor lacks.
	ErrUnsupported = errors.New("call not supported by this api flavor")
	// ErrLoginFailed is returned when the login response has no handle.
	ErrLoginFailed = errors.New("tavern login failed")
)

// APIError represents a non-2xx HTTP response.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// ResponseBody extracts the response body from err when it carries one.
func ResponseBody(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Body
	}
	return ""
}

type routes struct {
	get, save, recent string
}

var flavorRoutes = map[Flavor]routes{
	FlavorModern: {get: "/api/chats/get", save: "/api/chats/save"},
	FlavorLegacy: {get: "/api/get", save: "/api/save", recent: "/api/recent"},
}

// Client talks to the tavern HTTP API. All requests share one cookie jar so
// the session cookie set by the server is carried along.
type Client struct {
	baseURL    string
	flavor     Flavor
	routes     routes
	httpClient *http.Client
	log        zerolog.Logger

	csrfMu    sync.Mutex
	csrfToken string
}

// Option configures Client behavior.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a Client for the tavern at baseURL.
func NewClient(baseURL string, flavor Flavor, opts ...Option) (*Client, error) {
	r, ok := flavorRoutes[flavor]
	if !ok {
		return nil, fmt.Errorf("unknown api flavor %q", flavor)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		flavor:  flavor,
		routes:  r,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Flavor returns the configured server contract.
func (c *Client) Flavor() Flavor {
	return c.flavor
}

type getChatRequest struct {
	AvatarURL string `json:"avatar_url"`
	FileName  string `json:"file_name"`
}

type saveChatRequest struct {
	AvatarURL string `json:"avatar_url"`
	FileName  string `json:"file_name"`
	Chat      Log    `json:"chat"`
	Force     bool   `json:"force,omitempty"`
}

type saveChatResponse struct {
	Result string `json:"result"`
}

// GetChat fetches the raw chat file body for a character's chat.
func (c *Client) GetChat(ctx context.Context, avatarURL, fileName string) ([]byte, error) {
	return c.postJSON(ctx, c.routes.get, getChatRequest{AvatarURL: avatarURL, FileName: fileName})
}

// SaveChat replaces the chat file with chat. force skips the server's
// integrity check.
func (c *Client) SaveChat(ctx context.Context, avatarURL, fileName string, chat Log, force bool) error {
	if chat == nil {
		chat = Log{}
	}
	body, err := c.postJSON(ctx, c.routes.save, saveChatRequest{
		AvatarURL: avatarURL,
		FileName:  fileName,
		Chat:      chat,
		Force:     force,
	})
	if err != nil {
		return err
	}
	var resp saveChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: unreadable response: %s", ErrSaveRejected, truncate(string(body)))
	}
	if resp.Result != "ok" {
		return fmt.Errorf("%w: result %q", ErrSaveRejected, resp.Result)
	}
	return nil
}

// RecentChat is one entry of the legacy recent chats listing.
type RecentChat struct {
	FileName   string `json:"file_name"`
	FileSize   string `json:"file_size,omitempty"`
	ChatItems  int    `json:"chat_items,omitempty"`
	LastMes    any    `json:"last_mes,omitempty"`
	MesPreview string `json:"mes,omitempty"`
}

type recentRequest struct {
	Avatar string `json:"avatar"`
	Max    int    `json:"max"`
}

// RecentChats lists a character's chats, most recent first. Only the legacy
// flavor has this call.
func (c *Client) RecentChats(ctx context.Context, avatar string, limit int) ([]RecentChat, error) {
	if c.routes.recent == "" {
		return nil, ErrUnsupported
	}
	body, err := c.postJSON(ctx, c.routes.recent, recentRequest{Avatar: avatar, Max: limit})
	if err != nil {
		return nil, err
	}
	var chats []RecentChat
	if err := json.Unmarshal(body, &chats); err != nil {
		return nil, fmt.Errorf("failed to decode recent chats: %w", err)
	}
	return chats, nil
}

type loginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

type loginResponse struct {
	Handle string `json:"handle"`
}

// Login authenticates against the tavern's user accounts. The session cookie
// is kept in the client's jar.
func (c *Client) Login(ctx context.Context, handle, password string) (string, error) {
	body, err := c.postJSON(ctx, "/api/users/login", loginRequest{Handle: handle, Password: password})
	if err != nil {
		return "", err
	}
	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Handle == "" {
		return "", fmt.Errorf("%w for handle %q", ErrLoginFailed, handle)
	}
	return resp.Handle, nil
}

type csrfResponse struct {
	Token string `json:"token"`
}

// csrf returns the cached CSRF token, fetching it on first use.
func (c *Client) csrf(ctx context.Context) (string, error) {
	c.csrfMu.Lock()
	defer c.csrfMu.Unlock()
	if c.csrfToken != "" {
		return c.csrfToken, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/csrf-token", nil)
	if err != nil {
		return "", err
	}
	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch csrf token: %w", err)
	}
	var resp csrfResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Token == "" {
		return "", fmt.Errorf("failed to fetch csrf token: empty token")
	}
	c.csrfToken = resp.Token
	return c.csrfToken, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.flavor == FlavorLegacy {
		token, err := c.csrf(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-CSRF-Token", token)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	c.log.Trace().Str("method", req.Method).Str("path", req.URL.Path).Msg("Tavern request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to read response: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body))}
	}
	return body, nil
}

// truncate cuts s to at most maxErrorBody bytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
