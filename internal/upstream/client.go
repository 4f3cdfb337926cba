// Package upstream is the client for the content service that stores
// collection artifacts and runs import tasks.
//
// One Client is built at startup and shared by every request. It holds three
// http.Clients: a short-timeout one for API calls (task and import lookups), a
// long-timeout one for artifact uploads, and one for artifact downloads that
// never follows redirects so the caller can pass them on.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/collection-hub/collection-hub/internal/config"
)

// ErrNotFound is returned when the upstream service answers 404.
var ErrNotFound = errors.New("upstream resource not found")

// StatusError is an unexpected HTTP status returned by the upstream service.
type StatusError struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Op, e.URL, e.StatusCode, e.Body)
}

// Client talks to the upstream content service
type Client struct {
	APIBaseURL     string // e.g. http://pulp:24817/api/automation-hub
	ContentBaseURL string // e.g. http://pulp-content:24816/pulp/content/automation-hub
	Username       string
	Password       string

	apiHost string

	HTTPClient    *http.Client // API requests (short timeout)
	UploadClient  *http.Client // artifact uploads (long timeout)
	ContentClient *http.Client // artifact downloads, redirects not followed
}

// NewClient builds the shared upstream client from configuration
func NewClient(cfg config.UpstreamConfig) *Client {
	host := strings.TrimRight(cfg.APIHost, "/")
	apiBase := host
	if p := strings.Trim(cfg.APIPrefix, "/"); p != "" {
		apiBase += "/" + p
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	uploadTimeout := cfg.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = 10 * time.Minute
	}

	return &Client{
		APIBaseURL:     apiBase,
		ContentBaseURL: cfg.ContentBaseURL(),
		Username:       cfg.Username,
		Password:       cfg.Password,
		apiHost:        host,
		HTTPClient:     &http.Client{Timeout: timeout},
		UploadClient:   &http.Client{Timeout: uploadTimeout},
		ContentClient: &http.Client{
			Timeout: uploadTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// UploadURL is the artifact-ingestion endpoint
func (c *Client) UploadURL() string {
	return c.APIBaseURL + "/v3/artifacts/collections/"
}

// ImportURL is the import status endpoint for a task id
func (c *Client) ImportURL(taskID string) string {
	return c.APIBaseURL + "/v3/imports/collections/" + url.PathEscape(taskID) + "/"
}

// CollectionURL is the detail endpoint of a collection
func (c *Client) CollectionURL(namespace, name string) string {
	return c.APIBaseURL + "/v3/collections/" + url.PathEscape(namespace) + "/" + url.PathEscape(name) + "/"
}

// CollectionVersionURL is the detail endpoint of one collection version
func (c *Client) CollectionVersionURL(namespace, name, version string) string {
	return c.CollectionURL(namespace, name) + "versions/" + url.PathEscape(version) + "/"
}

// ArtifactURL is the download location of an artifact on the content host
func (c *Client) ArtifactURL(filename string) string {
	return c.ContentBaseURL + "/" + url.PathEscape(filename)
}

// UploadRequest is one artifact plus the identity it claims
type UploadRequest struct {
	Filename  string
	MIMEType  string
	Artifact  io.Reader
	Namespace string
	Name      string
	Version   string
	SHA256    string // optional
}

// UploadResponse is the upstream answer to an accepted upload
type UploadResponse struct {
	StatusCode int
	Body       json.RawMessage
	TaskHref   string
}

// Task is the subset of an upstream task resource the hub needs
type Task struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	State     string    `json:"state,omitempty"`
}

// UploadCollection streams the artifact to the ingestion endpoint as
// multipart/form-data. The declared identity travels as separate fields so
// upstream can cross-check it against the manifest inside the archive.
func (c *Client) UploadCollection(ctx context.Context, upload UploadRequest) (*UploadResponse, error) {
	uploadURL := c.UploadURL()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadForm(mw, upload))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.UploadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to upload artifact to %s: %w", uploadURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response from %s: %w", uploadURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Op: "upload", URL: uploadURL, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var accepted struct {
		Task string `json:"task"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		return nil, fmt.Errorf("failed to decode upload response from %s: %w", uploadURL, err)
	}
	if accepted.Task == "" {
		return nil, fmt.Errorf("upload response from %s carries no task reference", uploadURL)
	}

	return &UploadResponse{StatusCode: resp.StatusCode, Body: body, TaskHref: accepted.Task}, nil
}

func writeUploadForm(mw *multipart.Writer, upload UploadRequest) error {
	mimeType := upload.MIMEType
	if mimeType == "" {
		mimeType = "application/gzip"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(upload.Filename)))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, upload.Artifact); err != nil {
		return err
	}

	fields := [][2]string{
		{"expected_namespace", upload.Namespace},
		{"expected_name", upload.Name},
		{"expected_version", upload.Version},
	}
	if upload.SHA256 != "" {
		fields = append(fields, [2]string{"sha256", upload.SHA256})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// GetTask fetches the task resource referenced by an upload response.
// href may be absolute or relative to the API host.
func (c *Client) GetTask(ctx context.Context, href string) (*Task, error) {
	taskURL, err := c.resolve(href)
	if err != nil {
		return nil, err
	}

	body, err := c.getJSON(ctx, "task lookup", taskURL)
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task from %s: %w", taskURL, err)
	}
	if task.ID == "" {
		return nil, fmt.Errorf("task from %s carries no id", taskURL)
	}
	return &task, nil
}

// GetImport returns the live upstream representation of an import task.
// It returns ErrNotFound when upstream does not know the task.
func (c *Client) GetImport(ctx context.Context, taskID string) (json.RawMessage, error) {
	return c.getJSON(ctx, "import lookup", c.ImportURL(taskID))
}

// GetCollection returns the upstream representation of a collection.
func (c *Client) GetCollection(ctx context.Context, namespace, name string) (json.RawMessage, error) {
	return c.getJSON(ctx, "collection lookup", c.CollectionURL(namespace, name))
}

// GetCollectionVersion returns the upstream representation of one version.
func (c *Client) GetCollectionVersion(ctx context.Context, namespace, name, version string) (json.RawMessage, error) {
	return c.getJSON(ctx, "collection version lookup", c.CollectionVersionURL(namespace, name, version))
}

// SetDeprecated updates the deprecation flag of a collection and returns the
// updated upstream representation.
func (c *Client) SetDeprecated(ctx context.Context, namespace, name string, deprecated bool) (json.RawMessage, error) {
	payload := struct {
		Deprecated bool `json:"deprecated"`
	}{deprecated}
	return c.doJSON(ctx, http.MethodPut, "collection update", c.CollectionURL(namespace, name), payload)
}

// ArtifactResponse is the unfollowed upstream answer to an artifact download
type ArtifactResponse struct {
	StatusCode    int
	Location      string
	ContentType   string
	ContentLength int64
	Body          io.ReadCloser
}

// FetchArtifact issues the download request without following redirects.
// The caller must close Body.
func (c *Client) FetchArtifact(ctx context.Context, filename string) (*ArtifactResponse, error) {
	artifactURL := c.ArtifactURL(filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.ContentClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifact from %s: %w", artifactURL, err)
	}

	return &ArtifactResponse{
		StatusCode:    resp.StatusCode,
		Location:      resp.Header.Get("Location"),
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, op, target string) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodGet, op, target, nil)
}

// doJSON sends an optional JSON payload and returns the JSON answer. A 404
// becomes ErrNotFound and any other non-200 status a *StatusError.
func (c *Client) doJSON(ctx context.Context, method, op, target string, payload any) (json.RawMessage, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform %s at %s: %w", op, target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s %s: %w", op, target, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: op, URL: target, StatusCode: resp.StatusCode, Body: string(body)}
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s at %s returned invalid JSON", op, target)
	}
	return body, nil
}

func (c *Client) resolve(href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid task reference %q: %w", href, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(c.apiHost + "/")
	if err != nil {
		return "", fmt.Errorf("invalid upstream host %q: %w", c.apiHost, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *Client) authorize(req *http.Request) {
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}
}

// Ping checks that the upstream API answers at all. Any HTTP response counts
// as reachable; only transport failures are reported.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create ping request: %w", err)
	}
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("upstream %s unreachable: %w", c.APIBaseURL, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	return nil
}
