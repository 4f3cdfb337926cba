package telemetry

import (
	"log/slog"
	"strconv"
)

// Recorder feeds the collection import and download counters. It never
// panics into the caller: a failing counter is logged and dropped.
type Recorder struct{}

// NewRecorder returns the process-wide recorder backed by the default registry
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (Recorder) UploadAttempted() {
	safely("collection_import_attempts_total", func() { CollectionImportAttemptsTotal.Inc() })
}

func (Recorder) UploadSucceeded() {
	safely("collection_import_successes_total", func() { CollectionImportSuccessesTotal.Inc() })
}

func (Recorder) UploadFailed(reason string) {
	safely("collection_import_failures_total", func() {
		CollectionImportFailuresTotal.WithLabelValues(reason).Inc()
	})
}

func (Recorder) DownloadAttempted() {
	safely("collection_artifact_download_attempts_total", func() { CollectionArtifactDownloadAttemptsTotal.Inc() })
}

func (Recorder) DownloadSucceeded() {
	safely("collection_artifact_download_successes_total", func() { CollectionArtifactDownloadSuccessesTotal.Inc() })
}

// DownloadFailed records a failed download. status 0 means no upstream response.
func (Recorder) DownloadFailed(status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	safely("collection_artifact_download_failures_total", func() {
		CollectionArtifactDownloadFailuresTotal.WithLabelValues(label).Inc()
	})
}

func safely(metric string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("failed to record metric", "metric", metric, "panic", r)
		}
	}()
	fn()
}
