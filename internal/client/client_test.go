package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobsvennevik/marepo/internal/upload"
)

func TestUpload(t *testing.T) {
	content := strings.Repeat("syllabus ", 10_000)
	var gotName, gotBody, gotAuth, gotType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/documents/", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		b, _ := io.ReadAll(file)
		gotName = header.Filename
		gotType = header.Header.Get("Content-Type")
		gotBody = string(b)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"doc-42","status":"uploaded"}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "course.pdf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	ref, err := upload.Stat(path)
	require.NoError(t, err)

	var lastSent, lastTotal int64
	calls := 0
	c := New(srv.URL+"/api/", WithToken("secret"))
	doc, err := c.Upload(context.Background(), ref, func(sent, total int64) {
		assert.GreaterOrEqual(t, sent, lastSent)
		lastSent, lastTotal = sent, total
		calls++
	})
	require.NoError(t, err)

	assert.Equal(t, &Document{ID: "doc-42", Status: "uploaded"}, doc)
	assert.Equal(t, "course.pdf", gotName)
	assert.Equal(t, "application/pdf", gotType)
	assert.Equal(t, content, gotBody)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, int64(len(content)), lastSent)
	assert.Equal(t, int64(len(content)), lastTotal)
	assert.Positive(t, calls)
}

func TestUploadWithoutPath(t *testing.T) {
	c := New("http://127.0.0.1:0")
	_, err := c.Upload(context.Background(), upload.FileRef{Name: "a.pdf"}, nil)
	assert.Error(t, err)
}

func TestTriggerAndStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /documents/{id}/process/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "doc 1", r.PathValue("id"))
		_, _ = w.Write([]byte(`{"task_id":"t-1","status":"pending"}`))
	})
	mux.HandleFunc("GET /documents/{id}/status/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "t-1", r.URL.Query().Get("task_id"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":         "completed",
			"processed_data": map[string]any{"title": "Algebra"},
			"metadata":       map[string]any{"pages": 3},
			"original_text":  "# Algebra",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL)
	task, err := c.TriggerProcessing(context.Background(), "doc 1")
	require.NoError(t, err)
	assert.Equal(t, "t-1", task.TaskID)

	st, err := c.Status(context.Background(), "doc 1", task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "completed", st.Status)
	assert.Equal(t, "Algebra", st.ProcessedData["title"])
	assert.Equal(t, float64(3), st.Metadata["pages"])
	assert.Equal(t, "# Algebra", st.OriginalText)
}

func TestHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).ProcessedData(context.Background(), "missing")
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, "/documents/missing/processed_data/", httpErr.Path)
	assert.Contains(t, httpErr.Error(), "not found")
}

func TestCreateProject(t *testing.T) {
	var got ProjectInput
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"p-1","name":"Physics"}`))
	}))
	defer srv.Close()

	input := ProjectInput{
		Name:           "Physics",
		ProjectType:    "school",
		Topics:         []string{"Optics"},
		ImportantDates: []ProjectDate{{Title: "Final", Date: "2026-06-01", Kind: "exam"}},
	}
	p, err := New(srv.URL).CreateProject(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, &Project{ID: "p-1", Name: "Physics"}, p)
	assert.Equal(t, input, got)
}

func TestContextCancel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.URL).Status(ctx, "d", "t")
	assert.ErrorIs(t, err, context.Canceled)
}
