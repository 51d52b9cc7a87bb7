// Package ingestion submits documents to the retrieval backend and reports
// on their jobs. Job state lives in the backend only.
package ingestion

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/retrieval"
)

const maxFiles = 50

// Backend is the subset of the retrieval client used here.
type Backend interface {
	Enqueue(ctx context.Context, files []retrieval.FileSpec, namespace string) ([]retrieval.Job, error)
	JobStatus(ctx context.Context, jobID string) (*retrieval.JobStatus, error)
}

type Tracker struct {
	backend          Backend
	defaultNamespace string
	timeout          time.Duration
	logger           zerolog.Logger
}

func NewTracker(backend Backend, defaultNamespace string, timeout time.Duration, logger zerolog.Logger) *Tracker {
	return &Tracker{
		backend:          backend,
		defaultNamespace: defaultNamespace,
		timeout:          timeout,
		logger:           logger.With().Str("component", "ingestion").Logger(),
	}
}

// Enqueue validates files and forwards them. An empty namespace falls back
// to the configured default.
func (t *Tracker) Enqueue(ctx context.Context, files []retrieval.FileSpec, namespace string) ([]retrieval.Job, error) {
	if len(files) == 0 {
		return nil, apperr.Validation("files", "at least one file is required")
	}
	if len(files) > maxFiles {
		return nil, apperr.Validation("files", fmt.Sprintf("at most %d files per request", maxFiles))
	}
	for i, f := range files {
		if err := validateFile(f); err != nil {
			return nil, apperr.Validation(fmt.Sprintf("files[%d]", i), err.Error())
		}
	}
	if namespace == "" {
		namespace = t.defaultNamespace
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	jobs, err := t.backend.Enqueue(ctx, files, namespace)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		t.logger.Info().Str("job_id", j.JobID).Str("url", j.URL).Str("namespace", namespace).Msg("ingestion job enqueued")
	}
	return jobs, nil
}

// Status returns the backend's current view of a job.
func (t *Tracker) Status(ctx context.Context, jobID string) (*retrieval.JobStatus, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, apperr.Validation("id", "is required")
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return t.backend.JobStatus(ctx, jobID)
}

func (t *Tracker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.timeout)
}

func validateFile(f retrieval.FileSpec) error {
	if strings.TrimSpace(f.Filename) == "" {
		return fmt.Errorf("filename is required")
	}
	if f.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(f.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	return nil
}
