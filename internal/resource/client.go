package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mfiorillo/faqbot/internal/observability"
)

// Handle identifies a named text artifact served by the resource provider.
type Handle struct {
	Kind string // "prompt" or "resource"
	Name string
}

// The three artifacts the chat pipeline depends on.
var (
	QueryPrompt  = Handle{Kind: "prompt", Name: "query_generate"}
	AnswerPrompt = Handle{Kind: "prompt", Name: "answer_generate"}
	FAQ          = Handle{Kind: "resource", Name: "faq"}
)

func (h Handle) String() string {
	return h.Kind + ":" + h.Name
}

// remotePath maps a handle onto the provider's route layout
// (/prompts/query_generate, /resources/faq, ...).
func (h Handle) remotePath() string {
	return "/" + h.Kind + "s/" + h.Name
}

// localPath mirrors the provider layout as plain text files under the
// bundled resource directory.
func (h Handle) localPath(baseDir string) string {
	return filepath.Join(baseDir, h.Kind+"s", h.Name+".txt")
}

// Source records which transport actually served a fetch.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// Result is a successfully fetched resource tagged with its serving source.
type Result struct {
	Content string
	Source  Source
}

// UnavailableError reports that both the remote and local paths failed.
// Both causes are kept for diagnostics.
type UnavailableError struct {
	Handle    Handle
	RemoteErr error
	LocalErr  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("resource %s unavailable: remote: %v; local: %v", e.Handle, e.RemoteErr, e.LocalErr)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{e.RemoteErr, e.LocalErr}
}

// Client fetches named resources from a remote provider, falling back to a
// bundled local copy when the remote path fails. Remote and local copies ship
// in the same deployment unit, so the fallback is the same content over a
// different transport, not a stale cache. Nothing is cached between calls.
type Client struct {
	baseURL  string
	localDir string
	client   *http.Client
	metrics  *observability.Metrics
}

func NewClient(baseURL, localDir string, timeout time.Duration, metrics *observability.Metrics) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		localDir: localDir,
		client: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
	}
}

// Fetch resolves a handle, preferring the remote provider. A remote failure
// of any kind (network error, non-2xx status, malformed body) is logged as a
// warning and answered from the local copy; only when both paths fail does
// Fetch return an *UnavailableError.
func (c *Client) Fetch(ctx context.Context, h Handle) (Result, error) {
	content, remoteErr := c.fetchRemote(ctx, h)
	if remoteErr == nil {
		c.countFetch(h, SourceRemote)
		return Result{Content: content, Source: SourceRemote}, nil
	}

	log.Warn().
		Str("handle", h.String()).
		Err(remoteErr).
		Msg("remote resource fetch failed, falling back to local copy")

	content, localErr := c.fetchLocal(h)
	if localErr == nil {
		c.countFetch(h, SourceLocal)
		return Result{Content: content, Source: SourceLocal}, nil
	}

	c.countFetch(h, "unavailable")
	return Result{}, &UnavailableError{Handle: h, RemoteErr: remoteErr, LocalErr: localErr}
}

// Health probes the provider's liveness route. Best-effort: never returns an
// error, false on any failure.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	res, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
	return res.StatusCode >= 200 && res.StatusCode < 300
}

func (c *Client) fetchRemote(ctx context.Context, h Handle) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+h.remotePath(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("provider status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var payload struct {
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if payload.Content == nil {
		return "", fmt.Errorf("response missing content field")
	}
	return *payload.Content, nil
}

func (c *Client) fetchLocal(h Handle) (string, error) {
	data, err := os.ReadFile(h.localPath(c.localDir))
	if err != nil {
		return "", fmt.Errorf("read local copy: %w", err)
	}
	return string(data), nil
}

func (c *Client) countFetch(h Handle, source Source) {
	if c.metrics == nil {
		return
	}
	c.metrics.ResourceFetches.WithLabelValues(h.String(), string(source)).Inc()
}
