// Package retrieval is the client for the retrieval backend: similarity
// search over indexed documents plus the document-ingestion job API.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/careline/careline/internal/platform/apperr"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const service = "retrieval"

// ErrNotConfigured is returned when no retrieval URL is set.
var ErrNotConfigured = errors.New("retrieval backend not configured")

// Match is one search hit.
type Match struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Source   string                 `json:"source,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// FileSpec describes one document to ingest.
type FileSpec struct {
	URL      string                 `json:"url"`
	Filename string                 `json:"filename"`
	MIME     string                 `json:"mime,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Job is the backend's handle for one enqueued file.
type Job struct {
	JobID string `json:"jobId"`
	URL   string `json:"url"`
}

// JobStatus is the backend's report on an ingestion job.
type JobStatus struct {
	JobID    string  `json:"jobId"`
	Stage    string  `json:"stage"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
	Updated  string  `json:"updated,omitempty"`
}

type searchRequest struct {
	Query     string `json:"query"`
	Namespace string `json:"namespace,omitempty"`
	TopK      int    `json:"top_k"`
}

type searchResponse struct {
	Matches []Match `json:"matches"`
}

type ingestRequest struct {
	Files     []FileSpec `json:"files"`
	Namespace string     `json:"namespace,omitempty"`
}

type ingestResponse struct {
	Jobs []Job `json:"jobs"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func (e errorBody) text() string {
	for _, s := range []string{e.Message, e.Error, e.Detail} {
		if s != "" {
			return s
		}
	}
	return ""
}

type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		c.SetHeader("X-API-Key", apiKey)
	}
	return &Client{http: c, logger: logger.With().Str("component", "retrieval").Logger()}
}

// Configured reports whether a base URL was provided.
func (c *Client) Configured() bool { return c.http.BaseURL != "" }

// Search returns up to topK matches for query within namespace.
func (c *Client) Search(ctx context.Context, query, namespace string, topK int) ([]Match, error) {
	var out searchResponse
	if err := c.do(ctx, "POST", "/search", searchRequest{Query: query, Namespace: namespace, TopK: topK}, &out); err != nil {
		return nil, err
	}
	if len(out.Matches) > topK {
		out.Matches = out.Matches[:topK]
	}
	return out.Matches, nil
}

// Enqueue submits files for ingestion and returns one job per file.
func (c *Client) Enqueue(ctx context.Context, files []FileSpec, namespace string) ([]Job, error) {
	var out ingestResponse
	if err := c.do(ctx, "POST", "/ingest", ingestRequest{Files: files, Namespace: namespace}, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// JobStatus fetches the current state of an ingestion job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var out JobStatus
	req := c.http.R().SetQueryParam("id", jobID)
	if err := c.send(ctx, req, "GET", "/ingest/status", &out); err != nil {
		return nil, err
	}
	if out.JobID == "" {
		out.JobID = jobID
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	return c.send(ctx, c.http.R().SetBody(body), method, path, result)
}

func (c *Client) send(ctx context.Context, req *resty.Request, method, path string, result interface{}) error {
	if !c.Configured() {
		return apperr.Upstream(service, ErrNotConfigured)
	}
	var failure errorBody
	resp, err := req.SetContext(ctx).SetResult(result).SetError(&failure).Execute(method, path)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("retrieval request failed")
		return apperr.Upstream(service, err)
	}
	if resp.IsError() {
		msg := failure.text()
		if msg == "" {
			msg = resp.Status()
		}
		c.logger.Warn().Int("status", resp.StatusCode()).Str("path", path).Msg("retrieval backend error")
		return apperr.Upstream(service, fmt.Errorf("status %d: %s", resp.StatusCode(), msg))
	}
	return nil
}
