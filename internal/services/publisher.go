// Package services implements the collection publication pipeline and the
// read paths that sit next to it. Each operation coordinates local storage
// (namespaces, import records) with the upstream content service.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/collection-hub/collection-hub/internal/db/models"
	"github.com/collection-hub/collection-hub/internal/upstream"
	"github.com/collection-hub/collection-hub/internal/validation"
	"github.com/collection-hub/collection-hub/pkg/checksum"
)

// NamespaceResolver looks up a namespace by exact name. It returns (nil, nil)
// when the namespace does not exist.
type NamespaceResolver interface {
	GetByName(ctx context.Context, name string) (*models.Namespace, error)
}

// ImportRecorder persists the local record of an accepted import task.
type ImportRecorder interface {
	Create(ctx context.Context, imp *models.CollectionImport) error
}

// AccessGuard decides whether a user may publish into a namespace.
type AccessGuard interface {
	CanPublish(user *models.User, ns *models.Namespace) error
}

// Uploader is the upstream side of a publication.
type Uploader interface {
	UploadURL() string
	UploadCollection(ctx context.Context, upload upstream.UploadRequest) (*upstream.UploadResponse, error)
	GetTask(ctx context.Context, href string) (*upstream.Task, error)
}

// UploadMetrics receives publication counters. Implementations must not block.
type UploadMetrics interface {
	UploadAttempted()
	UploadSucceeded()
	UploadFailed(reason string)
}

// PublishRequest is one artifact upload as received from a caller.
type PublishRequest struct {
	Filename string
	Artifact io.ReadSeeker
	MIMEType string
	SHA256   string // optional, hex encoded
	User     *models.User
}

// PublishResult carries the upstream answer and the record created for it.
type PublishResult struct {
	StatusCode int
	Body       json.RawMessage
	Import     *models.CollectionImport
}

// Publisher validates, authorizes and forwards collection artifacts.
type Publisher struct {
	namespaces NamespaceResolver
	imports    ImportRecorder
	guard      AccessGuard
	upstream   Uploader
	metrics    UploadMetrics
	maxSize    int64
}

// NewPublisher creates a publisher. maxSize bounds the uncompressed archive
// content; zero or less means no bound.
func NewPublisher(namespaces NamespaceResolver, imports ImportRecorder, guard AccessGuard, up Uploader, metrics UploadMetrics, maxSize int64) *Publisher {
	return &Publisher{
		namespaces: namespaces,
		imports:    imports,
		guard:      guard,
		upstream:   up,
		metrics:    metrics,
		maxSize:    maxSize,
	}
}

// Publish runs the pipeline: archive check, identity, checksum, namespace,
// access, upload, task fetch, local record. Nothing touches the network
// before access is granted, and the local record is written only after
// upstream accepted the upload and returned the task.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	p.metrics.UploadAttempted()

	res, err := p.publish(ctx, req)
	if err != nil {
		p.metrics.UploadFailed(FailureReason(err))
		return nil, err
	}

	p.metrics.UploadSucceeded()
	return res, nil
}

func (p *Publisher) publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if req.Artifact == nil {
		return nil, invalid("file", ErrMalformedArtifact, "no artifact supplied")
	}
	if err := validation.ValidateArchive(req.Artifact, p.maxSize); err != nil {
		return nil, invalid("file", ErrMalformedArtifact, err.Error())
	}

	identity, err := validation.ParseArtifactFilename(req.Filename)
	if err != nil {
		return nil, invalid("file", ErrInvalidIdentity, err.Error())
	}

	if req.SHA256 != "" {
		if err := p.verifyChecksum(req.Artifact, req.SHA256); err != nil {
			return nil, err
		}
	}

	ns, err := p.namespaces.GetByName(ctx, identity.Namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve namespace %q: %w", identity.Namespace, err)
	}
	if ns == nil {
		return nil, invalid("file", ErrNamespaceNotFound,
			fmt.Sprintf("namespace %q does not exist", identity.Namespace))
	}

	if err := p.guard.CanPublish(req.User, ns); err != nil {
		return nil, fmt.Errorf("%w: cannot publish into namespace %q", ErrForbidden, ns.Name)
	}

	if _, err := req.Artifact.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind artifact: %w", err)
	}

	uploadURL := p.upstream.UploadURL()
	resp, err := p.upstream.UploadCollection(ctx, upstream.UploadRequest{
		Filename:  req.Filename,
		MIMEType:  req.MIMEType,
		Artifact:  req.Artifact,
		Namespace: identity.Namespace,
		Name:      identity.Name,
		Version:   identity.Version,
		SHA256:    req.SHA256,
	})
	if err != nil {
		slog.ErrorContext(ctx, "collection upload to upstream failed",
			"filename", req.Filename,
			"namespace", identity.Namespace,
			"sha256", req.SHA256,
			"url", uploadURL,
			"error", err)
		return nil, newUpstreamError("upload", uploadURL, err)
	}

	task, err := p.upstream.GetTask(ctx, resp.TaskHref)
	if err != nil {
		slog.ErrorContext(ctx, "import task lookup failed after upload",
			"filename", req.Filename,
			"namespace", identity.Namespace,
			"sha256", req.SHA256,
			"url", resp.TaskHref,
			"error", err)
		return nil, newUpstreamError("task lookup", resp.TaskHref, err)
	}

	record := &models.CollectionImport{
		TaskID:      task.ID,
		CreatedAt:   task.CreatedAt,
		NamespaceID: ns.ID,
		Namespace:   ns.Name,
		Name:        identity.Name,
		Version:     identity.Version,
	}
	if err := p.imports.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record import task %s: %w", task.ID, err)
	}

	slog.InfoContext(ctx, "collection upload accepted",
		"task_id", task.ID,
		"namespace", ns.Name,
		"name", identity.Name,
		"version", identity.Version)

	return &PublishResult{StatusCode: resp.StatusCode, Body: resp.Body, Import: record}, nil
}

func (p *Publisher) verifyChecksum(artifact io.ReadSeeker, expected string) error {
	if !checksum.IsSHA256Hex(expected) {
		return invalid("sha256", ErrInvalidChecksum, "expected 64 hexadecimal characters")
	}
	if _, err := artifact.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind artifact: %w", err)
	}
	ok, err := checksum.VerifySHA256(artifact, expected)
	if err != nil {
		return fmt.Errorf("failed to checksum artifact: %w", err)
	}
	if !ok {
		return invalid("sha256", ErrChecksumMismatch, "artifact content does not match the supplied sha256")
	}
	return nil
}

func newUpstreamError(op, url string, err error) *UpstreamError {
	ue := &UpstreamError{Op: op, URL: url, Err: err}
	var se *upstream.StatusError
	if errors.As(err, &se) {
		ue.StatusCode = se.StatusCode
	}
	return ue
}
