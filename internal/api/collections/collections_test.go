package collections

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collection-hub/collection-hub/internal/auth"
	"github.com/collection-hub/collection-hub/internal/config"
	"github.com/collection-hub/collection-hub/internal/db/models"
	"github.com/collection-hub/collection-hub/internal/db/repositories"
	"github.com/collection-hub/collection-hub/internal/middleware"
	"github.com/collection-hub/collection-hub/internal/services"
	"github.com/collection-hub/collection-hub/internal/telemetry"
	"github.com/collection-hub/collection-hub/internal/upstream"
	"github.com/collection-hub/collection-hub/pkg/checksum"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type memNamespaces map[string]*models.Namespace

func (m memNamespaces) GetByName(_ context.Context, name string) (*models.Namespace, error) {
	return m[name], nil
}

type memImports struct {
	mu      sync.Mutex
	records []*models.CollectionImport
}

func (m *memImports) Create(_ context.Context, imp *models.CollectionImport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, imp)
	return nil
}

func (m *memImports) List(_ context.Context, filter repositories.ImportFilter) ([]*models.CollectionImport, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CollectionImport
	for i := len(m.records) - 1; i >= 0; i-- {
		if filter.Namespace == "" || m.records[i].Namespace == filter.Namespace {
			out = append(out, m.records[i])
		}
	}
	total := len(out)
	if filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else {
		out = nil
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

// fakeUpstreamServer emulates the upstream API and content host.
type fakeUpstreamServer struct {
	uploads      atomic.Int32
	uploadStatus int
	importState  string
	contentCode  int
	location     string

	mu          sync.Mutex
	uploadMIMEs []string
	deprecated  bool
	updates     int
}

func (f *fakeUpstreamServer) collection(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"namespace": "demo", "name": "mycoll", "deprecated": f.deprecated})
}

func (f *fakeUpstreamServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/automation-hub/v3/artifacts/collections/":
			f.uploads.Add(1)
			if err := r.ParseMultipartForm(1 << 20); err == nil {
				if _, hdr, err := r.FormFile("file"); err == nil {
					f.mu.Lock()
					f.uploadMIMEs = append(f.uploadMIMEs, hdr.Header.Get("Content-Type"))
					f.mu.Unlock()
				}
			}
			if f.uploadStatus >= 400 {
				w.WriteHeader(f.uploadStatus)
				_, _ = io.WriteString(w, `{"errors":[{"detail":"rejected"}]}`)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			_, _ = io.WriteString(w, `{"task":"/api/automation-hub/v3/imports/collections/T1/"}`)
		case r.URL.Path == "/api/automation-hub/v3/imports/collections/T1/":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"id":"T1","created_at":"2026-01-02T03:04:05Z","state":"`+f.importState+`"}`)
		case strings.HasPrefix(r.URL.Path, "/api/automation-hub/v3/imports/collections/"):
			w.WriteHeader(http.StatusNotFound)
		case r.URL.Path == "/api/automation-hub/v3/collections/demo/mycoll/":
			f.mu.Lock()
			defer f.mu.Unlock()
			if r.Method == http.MethodPut {
				var body struct {
					Deprecated bool `json:"deprecated"`
				}
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				f.deprecated = body.Deprecated
				f.updates++
			}
			f.collection(w)
		case r.URL.Path == "/api/automation-hub/v3/collections/demo/mycoll/versions/1.0.0/":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"version":"1.0.0","download_url":"http://pulp-content:24816/pulp/content/automation-hub/demo-mycoll-1.0.0.tar.gz"}`)
		case strings.HasPrefix(r.URL.Path, "/content/automation-hub/"):
			switch f.contentCode {
			case http.StatusFound:
				w.Header().Set("Location", f.location)
				w.WriteHeader(http.StatusFound)
			case http.StatusOK:
				w.Header().Set("Content-Type", "application/x-tar")
				_, _ = io.WriteString(w, "artifact-bytes")
			default:
				w.WriteHeader(f.contentCode)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

type testEnv struct {
	router  *gin.Engine
	imports *memImports
	fake    *fakeUpstreamServer
}

// newTestEnv wires real services to a fake upstream. configure runs before
// the fake server starts so handlers never race with test setup.
func newTestEnv(t *testing.T, user *models.User, configure ...func(*fakeUpstreamServer)) *testEnv {
	t.Helper()
	fake := &fakeUpstreamServer{importState: "completed", contentCode: http.StatusOK}
	for _, fn := range configure {
		fn(fake)
	}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	up := upstream.NewClient(config.UpstreamConfig{APIHost: srv.URL, APIPrefix: "/api/automation-hub/"})
	up.ContentBaseURL = srv.URL + "/content/automation-hub"

	namespaces := memNamespaces{
		"demo":  {ID: "ns-demo", Name: "demo", Groups: pq.StringArray{"team-demo"}},
		"other": {ID: "ns-other", Name: "other", Groups: pq.StringArray{"team-other"}},
	}
	imports := &memImports{}
	recorder := telemetry.NewRecorder()

	publisher := services.NewPublisher(namespaces, imports, auth.NewGuard("system:partner-engineers"), up, recorder, 0)
	tracker := services.NewImportTracker(imports, up)
	proxy := services.NewDownloadProxy(up, recorder)
	catalog := services.NewCollectionCatalog(namespaces, auth.NewGuard("system:partner-engineers"), up, "https://hub.example.com")

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if user != nil {
			c.Set(middleware.UserKey, user)
		}
		c.Next()
	})
	r.POST("/api/v3/artifacts/collections/", UploadHandler(publisher, 1<<20))
	r.GET("/api/v3/imports/collections/", ListImportsHandler(tracker))
	r.GET("/api/v3/imports/collections/:task_id/", ImportStatusHandler(tracker))
	r.GET("/download/:filename", DownloadHandler(proxy))
	r.GET("/api/v3/collections/:namespace/:name/", CollectionHandler(catalog))
	r.PUT("/api/v3/collections/:namespace/:name/", UpdateCollectionHandler(catalog))
	r.GET("/api/v3/collections/:namespace/:name/versions/:version/", CollectionVersionHandler(catalog))

	return &testEnv{router: r, imports: imports, fake: fake}
}

func owner() *models.User {
	return &models.User{ID: "u1", Username: "alice", Groups: []string{"team-demo"}}
}

func makeArtifact(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	content := []byte(`{"collection_info":{"namespace":"demo","name":"mycoll","version":"1.0.0"}}`)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "MANIFEST.json", Mode: 0o644, Size: int64(len(content))}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func uploadRequest(t *testing.T, filename string, artifact []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(artifact)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v3/artifacts/collections/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Upload
// ---------------------------------------------------------------------------

func TestUpload_AcceptedThenStatusLookup(t *testing.T) {
	env := newTestEnv(t, owner())

	w := serve(env.router, uploadRequest(t, "demo-mycoll-1.0.0.tar.gz", makeArtifact(t), nil))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.JSONEq(t, `{"task":"/api/automation-hub/v3/imports/collections/T1/"}`, w.Body.String())

	require.Len(t, env.imports.records, 1)
	rec := env.imports.records[0]
	assert.Equal(t, "T1", rec.TaskID)
	assert.Equal(t, "demo", rec.Namespace)
	assert.Equal(t, "mycoll", rec.Name)
	assert.Equal(t, "1.0.0", rec.Version)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), rec.CreatedAt.UTC())

	w = serve(env.router, httptest.NewRequest(http.MethodGet, "/api/v3/imports/collections/T1/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "completed", status["state"])
}

func TestUpload_WithChecksum(t *testing.T) {
	env := newTestEnv(t, owner())
	artifact := makeArtifact(t)

	good, err := checksum.CalculateSHA256(bytes.NewReader(artifact))
	require.NoError(t, err)
	w := serve(env.router, uploadRequest(t, "demo-mycoll-1.0.0.tar.gz", artifact, map[string]string{"sha256": good}))
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	bad := strings.Repeat("0", 64)
	w = serve(env.router, uploadRequest(t, "demo-mycoll-1.0.0.tar.gz", artifact, map[string]string{"sha256": bad}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"sha256"`)
	assert.Equal(t, int32(1), env.fake.uploads.Load(), "mismatching checksum must not reach upstream")
}

func TestUpload_ForwardsPartContentType(t *testing.T) {
	tests := []struct {
		name     string
		partMIME string
		want     string
	}{
		{"declared type is kept", "application/x-gzip", "application/x-gzip"},
		{"missing type defaults to gzip", "", "application/gzip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, owner())

			var body bytes.Buffer
			mw := multipart.NewWriter(&body)
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", `form-data; name="file"; filename="demo-mycoll-1.0.0.tar.gz"`)
			if tt.partMIME != "" {
				h.Set("Content-Type", tt.partMIME)
			}
			part, err := mw.CreatePart(h)
			require.NoError(t, err)
			_, err = part.Write(makeArtifact(t))
			require.NoError(t, err)
			require.NoError(t, mw.Close())

			req := httptest.NewRequest(http.MethodPost, "/api/v3/artifacts/collections/", &body)
			req.Header.Set("Content-Type", mw.FormDataContentType())

			w := serve(env.router, req)
			require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

			env.fake.mu.Lock()
			defer env.fake.mu.Unlock()
			assert.Equal(t, []string{tt.want}, env.fake.uploadMIMEs)
		})
	}
}

func TestUpload_ValidationFailures(t *testing.T) {
	tests := []struct {
		name      string
		filename  string
		artifact  []byte
		wantField string
	}{
		{"not an archive", "demo-mycoll-1.0.0.tar.gz", []byte("definitely not a tarball"), "file"},
		{"bad identity", "demo-mycoll.tar.gz", nil, "file"},
		{"unknown namespace", "ghost-mycoll-1.0.0.tar.gz", nil, "file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, owner())
			artifact := tt.artifact
			if artifact == nil {
				artifact = makeArtifact(t)
			}

			w := serve(env.router, uploadRequest(t, tt.filename, artifact, nil))
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var body struct {
				Errors map[string][]string `json:"errors"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Errors[tt.wantField])
			assert.Zero(t, env.fake.uploads.Load())
			assert.Empty(t, env.imports.records)
		})
	}
}

func TestUpload_MissingFile(t *testing.T) {
	env := newTestEnv(t, owner())
	w := serve(env.router, uploadRequest(t, "", nil, map[string]string{"sha256": "x"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing artifact file")
}

func TestUpload_NotMultipart(t *testing.T) {
	env := newTestEnv(t, owner())
	req := httptest.NewRequest(http.MethodPost, "/api/v3/artifacts/collections/", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	w := serve(env.router, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpload_TooLarge(t *testing.T) {
	env := newTestEnv(t, owner())
	huge := bytes.Repeat([]byte("x"), 3<<20)
	w := serve(env.router, uploadRequest(t, "demo-mycoll-1.0.0.tar.gz", huge, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, env.fake.uploads.Load())
}

func TestUpload_ForbiddenForNonOwner(t *testing.T) {
	env := newTestEnv(t, &models.User{ID: "u2", Username: "mallory", Groups: []string{"team-other"}})

	w := serve(env.router, uploadRequest(t, "demo-mycoll-1.0.0.tar.gz", makeArtifact(t), nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, env.fake.uploads.Load())
	assert.Empty(t, env.imports.records)
}

func TestUpload_PrivilegedMayPublishAnywhere(t *testing.T) {
	env := newTestEnv(t, &models.User{ID: "u3", Username: "ops", Groups: []string{"system:partner-engineers"}})

	w := serve(env.router, uploadRequest(t, "other-mycoll-1.0.0.tar.gz", makeArtifact(t), nil))
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
}

func TestUpload_UpstreamRejectionIsBadGateway(t *testing.T) {
	env := newTestEnv(t, owner(), func(f *fakeUpstreamServer) { f.uploadStatus = http.StatusInternalServerError })

	w := serve(env.router, uploadRequest(t, "demo-mycoll-1.0.0.tar.gz", makeArtifact(t), nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Empty(t, env.imports.records, "no local record for an upload upstream did not accept")
}

// ---------------------------------------------------------------------------
// Imports
// ---------------------------------------------------------------------------

func TestImportStatus_UnknownTask(t *testing.T) {
	env := newTestEnv(t, owner())
	w := serve(env.router, httptest.NewRequest(http.MethodGet, "/api/v3/imports/collections/T404/", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListImports_NewestFirstWithPagination(t *testing.T) {
	env := newTestEnv(t, owner())
	for _, id := range []string{"T1", "T2", "T3"} {
		env.imports.records = append(env.imports.records, &models.CollectionImport{TaskID: id, Namespace: "demo", Name: "c", Version: "1.0.0"})
	}
	env.imports.records = append(env.imports.records, &models.CollectionImport{TaskID: "T4", Namespace: "other", Name: "c", Version: "1.0.0"})

	w := serve(env.router, httptest.NewRequest(http.MethodGet, "/api/v3/imports/collections/?namespace=demo&limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
		Data []models.CollectionImport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Meta.Count)
	require.Len(t, body.Data, 2)
	assert.Equal(t, "T3", body.Data[0].TaskID)
	assert.Equal(t, "T2", body.Data[1].TaskID)
}

func TestListImports_BadPaginationFallsBackToDefaults(t *testing.T) {
	env := newTestEnv(t, owner())
	w := serve(env.router, httptest.NewRequest(http.MethodGet, "/api/v3/imports/collections/?limit=abc&offset=-3", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"limit":20`)
	assert.Contains(t, w.Body.String(), `"offset":0`)
}

// ---------------------------------------------------------------------------
// Download proxy
// ---------------------------------------------------------------------------

func TestDownload_Passthrough(t *testing.T) {
	env := newTestEnv(t, owner())
	w := serve(env.router, httptest.NewRequest(http.MethodGet, "/download/demo-mycoll-1.0.0.tar.gz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-tar", w.Header().Get("Content-Type"))
	assert.Equal(t, "artifact-bytes", w.Body.String())
}

func TestDownload_Redirect(t *testing.T) {
	env := newTestEnv(t, owner(), func(f *fakeUpstreamServer) {
		f.contentCode = http.StatusFound
		f.location = "http://x/y"
	})

	w := serve(env.router, httptest.NewRequest(http.MethodGet, "/download/demo-mycoll-1.0.0.tar.gz", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://x/y", w.Header().Get("Location"))
}

func TestDownload_NotFound(t *testing.T) {
	env := newTestEnv(t, owner(), func(f *fakeUpstreamServer) { f.contentCode = http.StatusNotFound })

	w := serve(env.router, httptest.NewRequest(http.MethodGet, "/download/demo-mycoll-1.0.0.tar.gz", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownload_UnexpectedStatus(t *testing.T) {
	env := newTestEnv(t, owner(), func(f *fakeUpstreamServer) { f.contentCode = http.StatusServiceUnavailable })

	w := serve(env.router, httptest.NewRequest(http.MethodGet, "/download/demo-mycoll-1.0.0.tar.gz", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "503")
}

// ---------------------------------------------------------------------------
// Collection detail and deprecation
// ---------------------------------------------------------------------------

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCollection_Get(t *testing.T) {
	env := newTestEnv(t, owner())

	w := serve(env.router, httptest.NewRequest(http.MethodGet, "/api/v3/collections/demo/mycoll/", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"namespace":"demo","name":"mycoll","deprecated":false}`, w.Body.String())

	w = serve(env.router, httptest.NewRequest(http.MethodGet, "/api/v3/collections/demo/unknown/", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCollectionVersion_RewritesDownloadURL(t *testing.T) {
	env := newTestEnv(t, owner())

	w := serve(env.router, httptest.NewRequest(http.MethodGet, "/api/v3/collections/demo/mycoll/versions/1.0.0/", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"version":"1.0.0","download_url":"https://hub.example.com/download/demo-mycoll-1.0.0.tar.gz"}`, w.Body.String())

	w = serve(env.router, httptest.NewRequest(http.MethodGet, "/api/v3/collections/demo/mycoll/versions/9.9.9/", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateCollection_OwnerDeprecates(t *testing.T) {
	env := newTestEnv(t, owner())

	w := serve(env.router, jsonRequest(http.MethodPut, "/api/v3/collections/demo/mycoll/", `{"deprecated":true}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"namespace":"demo","name":"mycoll","deprecated":true}`, w.Body.String())

	env.fake.mu.Lock()
	defer env.fake.mu.Unlock()
	assert.Equal(t, 1, env.fake.updates)
	assert.True(t, env.fake.deprecated)
}

func TestUpdateCollection_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		user       *models.User
		path       string
		body       string
		wantStatus int
	}{
		{"non owner", &models.User{ID: "u2", Username: "mallory", Groups: []string{"team-other"}}, "/api/v3/collections/demo/mycoll/", `{"deprecated":true}`, http.StatusForbidden},
		{"unknown namespace", owner(), "/api/v3/collections/ghost/mycoll/", `{"deprecated":true}`, http.StatusNotFound},
		{"malformed body", owner(), "/api/v3/collections/demo/mycoll/", `not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.user)

			w := serve(env.router, jsonRequest(http.MethodPut, tt.path, tt.body))
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			env.fake.mu.Lock()
			defer env.fake.mu.Unlock()
			assert.Zero(t, env.fake.updates)
		})
	}
}

func TestUpdateCollection_PrivilegedMayDeprecateAnywhere(t *testing.T) {
	env := newTestEnv(t, &models.User{ID: "u3", Username: "ops", Groups: []string{"system:partner-engineers"}})

	w := serve(env.router, jsonRequest(http.MethodPut, "/api/v3/collections/demo/mycoll/", `{"deprecated":false}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"deprecated":false`)
}
