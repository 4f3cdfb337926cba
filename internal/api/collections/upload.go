// Package collections implements the collection endpoints: artifact upload,
// import listing and status, collection detail and deprecation, and the
// artifact download proxy.
package collections

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/collection-hub/collection-hub/internal/api/apierr"
	"github.com/collection-hub/collection-hub/internal/middleware"
	"github.com/collection-hub/collection-hub/internal/services"
)

// multipartMemory is how much of a multipart body is held in memory; larger
// artifacts spill to a temporary file, which still supports Seek.
const multipartMemory = 32 << 20

// multipartOverhead allows for form boundaries and the non-file fields on top
// of the configured artifact size.
const multipartOverhead = 1 << 20

// UploadHandler handles artifact uploads
// Implements: POST /api/v3/artifacts/collections/
// Accepts multipart form with: file (the archive, named namespace-name-version.tar.gz), sha256 (optional)
//
// The upstream task resource is returned verbatim with the upstream status code.
func UploadHandler(publisher *services.Publisher, maxUploadSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxUploadSize > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize+multipartOverhead)
		}

		if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				apierr.Invalid(c, "file", "artifact exceeds the maximum upload size")
				return
			}
			apierr.Invalid(c, "file", "request must be multipart/form-data")
			return
		}
		defer func() { _ = c.Request.MultipartForm.RemoveAll() }()

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			apierr.Invalid(c, "file", "missing artifact file")
			return
		}
		defer file.Close()

		res, err := publisher.Publish(c.Request.Context(), services.PublishRequest{
			Filename: header.Filename,
			Artifact: file,
			MIMEType: header.Header.Get("Content-Type"),
			SHA256:   c.Request.FormValue("sha256"),
			User:     middleware.CurrentUser(c),
		})
		if err != nil {
			apierr.Respond(c, err)
			return
		}

		c.Set(middleware.AuditResourceIDKey, res.Import.TaskID)
		c.Data(res.StatusCode, "application/json", res.Body)
	}
}
