package services

import (
	"context"
	"net/http"
	"strings"

	"github.com/collection-hub/collection-hub/internal/upstream"
)

// ArtifactFetcher issues non-redirect-following artifact downloads.
type ArtifactFetcher interface {
	ArtifactURL(filename string) string
	FetchArtifact(ctx context.Context, filename string) (*upstream.ArtifactResponse, error)
}

// DownloadMetrics receives download counters. Implementations must not block.
type DownloadMetrics interface {
	DownloadAttempted()
	DownloadSucceeded()
	DownloadFailed(status int)
}

// Download is the translated upstream answer. Exactly one of RedirectURL and
// Artifact is set. The caller must close Artifact.Body.
type Download struct {
	RedirectURL string
	Artifact    *upstream.ArtifactResponse
}

// DownloadProxy translates upstream artifact responses for callers.
type DownloadProxy struct {
	upstream ArtifactFetcher
	metrics  DownloadMetrics
}

// NewDownloadProxy creates a download proxy
func NewDownloadProxy(up ArtifactFetcher, metrics DownloadMetrics) *DownloadProxy {
	return &DownloadProxy{upstream: up, metrics: metrics}
}

// Fetch asks upstream for filename. A 302 becomes a redirect, a 200 a
// streamed artifact, a 404 ErrArtifactNotFound, and any other status an
// *UnexpectedStatusError.
func (d *DownloadProxy) Fetch(ctx context.Context, filename string) (*Download, error) {
	d.metrics.DownloadAttempted()

	if filename == "" || strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		d.metrics.DownloadFailed(0)
		return nil, ErrArtifactNotFound
	}

	resp, err := d.upstream.FetchArtifact(ctx, filename)
	if err != nil {
		d.metrics.DownloadFailed(0)
		return nil, newUpstreamError("download", d.upstream.ArtifactURL(filename), err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		d.metrics.DownloadSucceeded()
		return &Download{Artifact: resp}, nil
	case http.StatusFound:
		resp.Body.Close()
		d.metrics.DownloadSucceeded()
		return &Download{RedirectURL: resp.Location}, nil
	case http.StatusNotFound:
		resp.Body.Close()
		d.metrics.DownloadFailed(resp.StatusCode)
		return nil, ErrArtifactNotFound
	default:
		resp.Body.Close()
		d.metrics.DownloadFailed(resp.StatusCode)
		return nil, &UnexpectedStatusError{StatusCode: resp.StatusCode}
	}
}
