package collections

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/collection-hub/collection-hub/internal/api/apierr"
	"github.com/collection-hub/collection-hub/internal/services"
)

const streamChunkSize = 4 << 10

// DownloadHandler proxies artifact downloads from the upstream content host
// Implements: GET /download/:filename
//
// Upstream redirects are passed on to the caller; a 200 is streamed through
// with the upstream content type.
func DownloadHandler(proxy *services.DownloadProxy) gin.HandlerFunc {
	return func(c *gin.Context) {
		filename := c.Param("filename")

		dl, err := proxy.Fetch(c.Request.Context(), filename)
		if err != nil {
			apierr.Respond(c, err)
			return
		}

		if dl.RedirectURL != "" {
			c.Redirect(http.StatusFound, dl.RedirectURL)
			return
		}

		body := dl.Artifact.Body
		defer body.Close()

		contentType := dl.Artifact.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Header("Content-Type", contentType)
		if dl.Artifact.ContentLength >= 0 {
			c.Header("Content-Length", strconv.FormatInt(dl.Artifact.ContentLength, 10))
		}
		c.Status(http.StatusOK)

		// Headers are already sent; a broken stream can only be logged.
		if _, err := io.CopyBuffer(c.Writer, body, make([]byte, streamChunkSize)); err != nil {
			slog.WarnContext(c.Request.Context(), "artifact stream interrupted", "filename", filename, "error", err)
		}
	}
}
