// Package progressclient is the HTTP/JSON client of the BFF progress routes.
// It satisfies playback.Store.
package progressclient

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/example/course-platform/internal/platform/api"
	"github.com/example/course-platform/internal/platform/httpserver"
	"github.com/example/course-platform/internal/progress"
)

const defaultTimeout = 5 * time.Second

// StatusError is a non-2xx response. API carries the decoded envelope.
type StatusError struct {
	Status int
	API    api.APIError
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("progress api %d: %s", e.Status, e.API.Error())
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Options struct {
	// Token is sent as a bearer credential.
	Token string
	// HTTPClient defaults to a client with a 5s timeout and an otelhttp transport.
	HTTPClient *http.Client
}

func New(baseURL string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: opts.Token, http: hc}
}

type commitBody struct {
	VideoID       string            `json:"videoId"`
	Interval      progress.Interval `json:"interval"`
	VideoDuration float64           `json:"videoDuration"`
	LastPosition  *float64          `json:"lastPosition,omitempty"`
	ClientTS      time.Time         `json:"clientTs,omitzero"`
}

// ListPage is one page of the continue-watching list.
type ListPage struct {
	Items      []progress.Record `json:"items"`
	Limit      int32             `json:"limit"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// FetchProgress returns the caller's record for videoID. A video never
// committed comes back as the zero record.
func (c *Client) FetchProgress(ctx context.Context, videoID string) (progress.Record, error) {
	var rec progress.Record
	err := c.do(ctx, http.MethodGet, "/v1/progress/"+url.PathEscape(videoID), nil, &rec)
	return rec, err
}

// CommitProgress sends one interval and returns the merged record.
func (c *Client) CommitProgress(ctx context.Context, videoID string, commit progress.Commit) (progress.Record, error) {
	var rec progress.Record
	err := c.do(ctx, http.MethodPost, "/v1/progress/"+url.PathEscape(videoID), newCommitBody(videoID, commit), &rec)
	return rec, err
}

// Beacon queues a commit on the fire-and-forget path. It returns the event id
// when the BFF queued it, or "" when the BFF committed synchronously.
func (c *Client) Beacon(ctx context.Context, videoID string, commit progress.Commit) (string, error) {
	resp, err := c.send(ctx, http.MethodPost, "/v1/progress/"+url.PathEscape(videoID)+"/beacon", newCommitBody(videoID, commit))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Header.Get("X-Event-ID"), nil
}

// List returns the most recently updated records. An empty cursor starts
// from the newest.
func (c *Client) List(ctx context.Context, limit int, cursor string) (ListPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/v1/progress"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var page ListPage
	err := c.do(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

func newCommitBody(videoID string, c progress.Commit) commitBody {
	return commitBody{VideoID: videoID, Interval: c.Interval, VideoDuration: c.VideoDuration, LastPosition: c.LastPosition, ClientTS: c.ClientTS}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if rid := httpserver.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set("X-Request-Id", rid)
	}
	return c.http.Do(req)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &StatusError{Status: resp.StatusCode, API: api.DecodeError(resp.StatusCode, data)}
}
