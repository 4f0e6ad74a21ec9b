// Package client provides a REST client for the document-processing backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jacobsvennevik/marepo/internal/upload"
)

// Client talks to the document and project endpoints of the backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken attaches an opaque bearer token to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout. Uploads of large files share it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client for baseURL, e.g. "http://localhost:8000/api".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), body)
}

// =============================================================================
// TYPES (matching the REST payloads)
// =============================================================================

// Document is the response to an upload.
type Document struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ProcessingTask is the response to a processing trigger.
type ProcessingTask struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// DocumentStatus is one status poll result.
type DocumentStatus struct {
	Status        string         `json:"status"`
	Error         string         `json:"error,omitempty"`
	ProcessedData map[string]any `json:"processed_data,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	OriginalText  string         `json:"original_text,omitempty"`
}

// ProjectInput is the payload for creating a project.
type ProjectInput struct {
	Name           string         `json:"name"`
	ProjectType    string         `json:"project_type"`
	EducationLevel string         `json:"education_level,omitempty"`
	CourseName     string         `json:"course_name,omitempty"`
	CourseCode     string         `json:"course_code,omitempty"`
	Instructor     string         `json:"instructor,omitempty"`
	Term           string         `json:"term,omitempty"`
	Topics         []string       `json:"topics,omitempty"`
	ImportantDates []ProjectDate  `json:"important_dates,omitempty"`
	Goal           string         `json:"goal,omitempty"`
	StudyFrequency string         `json:"study_frequency,omitempty"`
	Collaboration  string         `json:"collaboration,omitempty"`
	DocumentIDs    []string       `json:"document_ids,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// ProjectDate is a dated milestone attached to a project.
type ProjectDate struct {
	Title string `json:"title"`
	Date  string `json:"date"`
	Kind  string `json:"kind,omitempty"`
}

// Project is a created project.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// Upload streams the file behind f to the documents endpoint. progress, when
// non-nil, receives the bytes sent so far and the total.
func (c *Client) Upload(ctx context.Context, f upload.FileRef, progress func(sent, total int64)) (*Document, error) {
	if f.Path == "" {
		return nil, fmt.Errorf("upload %s: no local path", f.Name)
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer file.Close()

	return c.UploadReader(ctx, f.Name, f.MediaType, file, f.Size, progress)
}

// UploadReader streams r as a multipart "file" field named name.
func (c *Client) UploadReader(ctx context.Context, name, mediaType string, r io.Reader, size int64, progress func(sent, total int64)) (*Document, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := createFilePart(mw, name, mediaType)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := r
		if progress != nil {
			src = &progressReader{r: r, total: size, fn: progress}
		}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(fmt.Errorf("copy file: %w", err))
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/documents/", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var doc Document
	if err := c.do(req, &doc); err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return &doc, nil
}

func createFilePart(mw *multipart.Writer, name, mediaType string) (io.Writer, error) {
	if mediaType == "" {
		return mw.CreateFormFile("file", name)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", mediaType)
	return mw.CreatePart(h)
}

// TriggerProcessing starts server-side processing of an uploaded document.
func (c *Client) TriggerProcessing(ctx context.Context, documentID string) (*ProcessingTask, error) {
	var task ProcessingTask
	if err := c.call(ctx, http.MethodPost, "/documents/"+url.PathEscape(documentID)+"/process/", nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Status fetches the processing status of a document.
func (c *Client) Status(ctx context.Context, documentID, taskID string) (*DocumentStatus, error) {
	path := "/documents/" + url.PathEscape(documentID) + "/status/"
	if taskID != "" {
		path += "?task_id=" + url.QueryEscape(taskID)
	}
	var st DocumentStatus
	if err := c.call(ctx, http.MethodGet, path, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ProcessedData fetches the structured result of a processed document.
func (c *Client) ProcessedData(ctx context.Context, documentID string) (map[string]any, error) {
	var data map[string]any
	if err := c.call(ctx, http.MethodGet, "/documents/"+url.PathEscape(documentID)+"/processed_data/", nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// =============================================================================
// PROJECTS
// =============================================================================

// CreateProject creates a project from a finished wizard.
func (c *Client) CreateProject(ctx context.Context, input ProjectInput) (*Project, error) {
	var p Project
	if err := c.call(ctx, http.MethodPost, "/projects/", input, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

func (c *Client) call(ctx context.Context, method, path string, body, result any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, result)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	if result != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// progressReader reports cumulative bytes read.
type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}
