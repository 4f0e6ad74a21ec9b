// Package pipeline runs the upload-and-analyze flow: admitted files are
// uploaded, a remote processing job is triggered and polled, and its result
// is normalized into course metadata.
package pipeline

import (
	"context"
	"time"

	"github.com/jacobsvennevik/marepo/internal/client"
	"github.com/jacobsvennevik/marepo/internal/upload"
)

// Backend is the remote side of the pipeline. *client.Client implements it.
type Backend interface {
	Upload(ctx context.Context, f upload.FileRef, progress func(sent, total int64)) (*client.Document, error)
	TriggerProcessing(ctx context.Context, documentID string) (*client.ProcessingTask, error)
	Status(ctx context.Context, documentID, taskID string) (*client.DocumentStatus, error)
	ProcessedData(ctx context.Context, documentID string) (map[string]any, error)
}

var _ Backend = (*client.Client)(nil)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the timer-backed SleepFunc. The timer is stopped on cancel.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
