package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobsvennevik/marepo/internal/client"
	"github.com/jacobsvennevik/marepo/internal/extract"
	"github.com/jacobsvennevik/marepo/internal/metrics"
	"github.com/jacobsvennevik/marepo/internal/mode"
	"github.com/jacobsvennevik/marepo/internal/pipeline"
	"github.com/jacobsvennevik/marepo/internal/upload"
)

const syllabusText = `---
course_code: CS-301
instructor: Dr. Hopper
---
# Compilers

Midterm exam 2025-10-20
Final exam 2025-12-15
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts Options) (*Server, *client.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	opts.Logger = discardLogger()
	srv := New(opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, client.New(ts.URL+"/api", client.WithToken(opts.Token))
}

func writeFile(t *testing.T, name, content string) upload.FileRef {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return upload.FileRef{Name: name, Size: int64(len(content)), MediaType: upload.DetectMediaType(name), Path: path}
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func newOrchestrator(b pipeline.Backend, maxAttempts int, m *metrics.Collector) *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(pipeline.Options{
		Policy:  upload.NewPolicy([]string{"pdf", "txt", "md"}, 1<<20),
		Backend: b,
		Mode:    mode.Static(false),
		Poller: &pipeline.Poller{
			Backend:     b,
			Mode:        mode.Static(false),
			Interval:    time.Millisecond,
			MaxAttempts: maxAttempts,
			Logger:      discardLogger(),
			Metrics:     m,
			Sleep:       noSleep,
		},
		Logger:  discardLogger(),
		Metrics: m,
	})
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := New(Options{Token: "secret", Logger: discardLogger()})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestDocumentLifecycle(t *testing.T) {
	_, c := newTestServer(t, Options{PollsUntilComplete: 2})
	ctx := context.Background()

	doc, err := c.UploadReader(ctx, "syllabus.md", "text/markdown", strings.NewReader(syllabusText), int64(len(syllabusText)), nil)
	require.NoError(t, err)
	require.NotEmpty(t, doc.ID)

	st, err := c.Status(ctx, doc.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "uploaded", st.Status)

	task, err := c.TriggerProcessing(ctx, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, task.TaskID)

	for range 2 {
		st, err = c.Status(ctx, doc.ID, task.TaskID)
		require.NoError(t, err)
		assert.Equal(t, "processing", st.Status)
	}
	st, err = c.Status(ctx, doc.ID, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "completed", st.Status)
	assert.Equal(t, "Compilers", st.ProcessedData["course_title"])
	assert.Equal(t, "syllabus.md", st.Metadata["file_name"])
	assert.Equal(t, syllabusText, st.OriginalText)

	data, err := c.ProcessedData(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "CS-301", data["course_code"])
	assert.NoError(t, extract.CheckProcessed(data))
}

func TestUnknownDocumentAndTask(t *testing.T) {
	_, c := newTestServer(t, Options{})
	ctx := context.Background()

	_, err := c.TriggerProcessing(ctx, "missing")
	var httpErr *client.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)

	doc, err := c.UploadReader(ctx, "a.txt", "text/plain", strings.NewReader("hello"), 5, nil)
	require.NoError(t, err)
	_, err = c.TriggerProcessing(ctx, doc.ID)
	require.NoError(t, err)
	_, err = c.Status(ctx, doc.ID, "other-task")
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
}

func TestTokenRequired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := New(Options{Token: "secret", Logger: discardLogger()})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, err := client.New(ts.URL+"/api").TriggerProcessing(context.Background(), "x")
	var httpErr *client.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)

	_, err = client.New(ts.URL+"/api", client.WithToken("secret")).TriggerProcessing(context.Background(), "x")
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
}

func TestMockHeaderCompletesImmediately(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(Options{PollsUntilComplete: 5, Logger: discardLogger()}).Handler()

	do := func(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, body)
		req.Header.Set(mode.Header, "true")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	body := "--b\r\nContent-Disposition: form-data; name=\"file\"; filename=\"exam.pdf\"\r\nContent-Type: application/pdf\r\n\r\nnot really a pdf\r\n--b--\r\n"
	w := do(http.MethodPost, "/api/documents/", strings.NewReader(body), "multipart/form-data; boundary=b")
	require.Equal(t, http.StatusCreated, w.Code)
	var doc client.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))

	w = do(http.MethodPost, "/api/documents/"+doc.ID+"/process/", nil, "")
	require.Equal(t, http.StatusAccepted, w.Code)

	w = do(http.MethodGet, "/api/documents/"+doc.ID+"/status/", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var st client.DocumentStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "completed", st.Status)
	assert.Equal(t, "Exam", st.ProcessedData["course_title"])
	assert.NotContains(t, st.Metadata, "pages", "unparseable pdf has no page count")
}

func TestUploadTooLarge(t *testing.T) {
	_, c := newTestServer(t, Options{MaxUploadBytes: 4})
	_, err := c.UploadReader(context.Background(), "big.txt", "text/plain", strings.NewReader("too large"), 9, nil)
	var httpErr *client.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusRequestEntityTooLarge, httpErr.StatusCode)
}

func TestCreateProject(t *testing.T) {
	srv, c := newTestServer(t, Options{})

	p, err := c.CreateProject(context.Background(), client.ProjectInput{Name: "Compilers", ProjectType: "school", DocumentIDs: []string{"doc-1"}})
	require.NoError(t, err)
	assert.Equal(t, "Compilers", p.Name)

	stored, err := srv.Project(p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, stored.DocumentIDs)

	_, err = c.CreateProject(context.Background(), client.ProjectInput{Name: "  "})
	var httpErr *client.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
}

func TestPipelineAgainstDevServer(t *testing.T) {
	tests := []struct {
		name       string
		opts       Options
		file       string
		attempts   int
		wantStatus pipeline.Status
		wantKind   pipeline.Kind
		wantSource extract.Source
	}{
		{
			name:       "structured result",
			opts:       Options{PollsUntilComplete: 2},
			file:       "syllabus.md",
			attempts:   5,
			wantStatus: pipeline.StatusSucceeded,
			wantSource: extract.SourceStructured,
		},
		{
			name:       "raw fallback without processed data",
			opts:       Options{PollsUntilComplete: 1, OmitProcessed: true},
			file:       "syllabus.md",
			attempts:   5,
			wantStatus: pipeline.StatusSucceeded,
			wantSource: extract.SourceRawFallback,
		},
		{
			name:       "processing failure",
			opts:       Options{FailPattern: "broken"},
			file:       "broken-syllabus.txt",
			attempts:   5,
			wantStatus: pipeline.StatusFailed,
			wantKind:   pipeline.KindProcessing,
		},
		{
			name:       "timeout",
			opts:       Options{PollsUntilComplete: 10},
			file:       "syllabus.md",
			attempts:   3,
			wantStatus: pipeline.StatusFailed,
			wantKind:   pipeline.KindTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newTestServer(t, tt.opts)
			m := metrics.NewCollector()
			o := newOrchestrator(c, tt.attempts, m)
			defer o.Close()

			require.NoError(t, o.AddFiles(writeFile(t, tt.file, syllabusText)))
			run, err := o.StartAnalysis(context.Background())
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			sess, err := run.Wait(ctx)
			require.False(t, errors.Is(err, context.DeadlineExceeded), "run did not finish")

			assert.Equal(t, tt.wantStatus, sess.Status)
			assert.Equal(t, 100, sess.Progress[tt.file])
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, pipeline.KindOf(err))
				return
			}
			require.NoError(t, err)
			require.NotNil(t, sess.Extracted)
			assert.Equal(t, tt.wantSource, sess.Extracted.Source)
			assert.Equal(t, "Compilers", sess.Extracted.CourseTitle)
			assert.Equal(t, "CS-301", sess.Extracted.CourseCode)
			assert.NotEmpty(t, sess.DocumentID)
			assert.Equal(t, int64(1), m.Snapshot().Operations[metrics.OpUpload].Count)
		})
	}
}
