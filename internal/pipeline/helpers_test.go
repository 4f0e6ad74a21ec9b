package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jacobsvennevik/marepo/internal/client"
	"github.com/jacobsvennevik/marepo/internal/upload"
)

type statusReply struct {
	status *client.DocumentStatus
	err    error
}

func reply(status string) statusReply {
	return statusReply{status: &client.DocumentStatus{Status: status}}
}

// fakeBackend scripts backend responses and counts calls.
type fakeBackend struct {
	mu sync.Mutex

	doc       *client.Document
	uploadErr error
	// uploadGate, when set, blocks Upload until it is closed.
	uploadGate chan struct{}
	// uploadProgress is replayed through the progress callback.
	uploadProgress [][2]int64

	task       *client.ProcessingTask
	triggerErr error

	// statuses are returned in order; the last one repeats.
	statuses []statusReply

	processed    map[string]any
	processedErr error

	calls map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		doc:   &client.Document{ID: "doc-1", Status: "uploaded"},
		task:  &client.ProcessingTask{TaskID: "task-1", Status: "pending"},
		calls: make(map[string]int),
	}
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeBackend) record(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeBackend) Upload(ctx context.Context, _ upload.FileRef, progress func(sent, total int64)) (*client.Document, error) {
	f.record("upload")
	if f.uploadGate != nil {
		<-f.uploadGate
	}
	for _, p := range f.uploadProgress {
		if progress != nil {
			progress(p[0], p[1])
		}
	}
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return f.doc, nil
}

func (f *fakeBackend) TriggerProcessing(_ context.Context, _ string) (*client.ProcessingTask, error) {
	f.record("trigger")
	if f.triggerErr != nil {
		return nil, f.triggerErr
	}
	return f.task, nil
}

func (f *fakeBackend) Status(_ context.Context, _, _ string) (*client.DocumentStatus, error) {
	f.mu.Lock()
	n := f.calls["status"]
	f.calls["status"]++
	f.mu.Unlock()

	if len(f.statuses) == 0 {
		return &client.DocumentStatus{Status: "processing"}, nil
	}
	r := f.statuses[min(n, len(f.statuses)-1)]
	return r.status, r.err
}

func (f *fakeBackend) ProcessedData(_ context.Context, _ string) (map[string]any, error) {
	f.record("processed_data")
	if f.processedErr != nil {
		return nil, f.processedErr
	}
	if f.processed == nil {
		return nil, &client.HTTPError{Method: "GET", Path: "/documents/doc-1/processed_data/", StatusCode: 404}
	}
	return f.processed, nil
}

// countingSleep returns immediately and records each requested wait.
type countingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *countingSleep) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *countingSleep) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waits)
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// blockingSleep waits until ctx is done.
func blockingSleep(ctx context.Context, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

var errTransport = errors.New("connection reset")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
