package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobsvennevik/marepo/internal/client"
	"github.com/jacobsvennevik/marepo/internal/extract"
	"github.com/jacobsvennevik/marepo/internal/metrics"
	"github.com/jacobsvennevik/marepo/internal/mode"
	"github.com/jacobsvennevik/marepo/internal/upload"
)

const testMaxBytes = 1 << 20

func newTestOrchestrator(b Backend, sel mode.Selector, maxAttempts int) (*Orchestrator, *metrics.Collector) {
	m := metrics.NewCollector()
	o := NewOrchestrator(Options{
		Policy:  upload.NewPolicy([]string{"pdf", "docx", "txt"}, testMaxBytes),
		Backend: b,
		Mode:    sel,
		Poller: &Poller{
			Backend:     b,
			Mode:        sel,
			Interval:    time.Millisecond,
			MaxAttempts: maxAttempts,
			Logger:      discardLogger(),
			Metrics:     m,
			Sleep:       noSleep,
		},
		MockDelayMin: time.Second,
		MockDelayMax: 3 * time.Second,
		Jitter:       func(int64) int64 { return 0 },
		Sleep:        noSleep,
		Logger:       discardLogger(),
		Metrics:      m,
	})
	return o, m
}

func waitRun(t *testing.T, run *Run) (Session, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := run.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "run did not finish")
	return s, err
}

func pdf(name string) upload.FileRef {
	return upload.FileRef{Name: name, Size: 2048}
}

func TestAddFilesRejectsUnsupportedType(t *testing.T) {
	o, _ := newTestOrchestrator(newFakeBackend(), mode.Static(true), 3)
	require.NoError(t, o.AddFiles(pdf("syllabus.pdf")))

	err := o.AddFiles(upload.FileRef{Name: "notes.exe", Size: 10})
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindValidation, pe.Kind)
	assert.Equal(t, string(upload.ReasonUnsupportedType), pe.Reason)
	assert.Equal(t, "notes.exe", pe.File)
	assert.False(t, pe.Retryable())

	s := o.Snapshot()
	require.Len(t, s.Files, 1, "rejected file is not added")
	assert.Equal(t, "syllabus.pdf", s.Files[0].Name)
	assert.NotContains(t, s.Progress, "notes.exe")
	require.NotNil(t, s.Err)
	assert.Equal(t, KindValidation, s.Err.Kind)
	assert.Equal(t, StatusIdle, s.Status)
}

func TestAddFilesPartialAcceptance(t *testing.T) {
	o, _ := newTestOrchestrator(newFakeBackend(), mode.Static(true), 3)

	err := o.AddFiles(
		pdf("a.pdf"),
		upload.FileRef{Name: "huge.pdf", Size: testMaxBytes + 1},
		upload.FileRef{Name: "b.docx", Size: 10},
		upload.FileRef{Name: "c.zip", Size: 10},
	)
	require.Error(t, err)
	s := o.Snapshot()
	assert.Equal(t, []string{"a.pdf", "b.docx"}, names(s.Files))
	assert.Equal(t, map[string]int{"a.pdf": 0, "b.docx": 0}, s.Progress)
	assert.Equal(t, string(upload.ReasonTooLarge), s.Err.Reason)
	assert.Contains(t, s.Err.Message, "huge.pdf")
	assert.Contains(t, s.Err.Message, "c.zip")

	var first *Error
	require.ErrorAs(t, err, &first)
	assert.Equal(t, "huge.pdf", first.File)
}

func TestAddFilesReplacesSameName(t *testing.T) {
	o, _ := newTestOrchestrator(newFakeBackend(), mode.Static(true), 3)
	require.NoError(t, o.AddFiles(pdf("a.pdf"), pdf("b.pdf")))
	require.NoError(t, o.AddFiles(upload.FileRef{Name: "a.pdf", Size: 99}))

	s := o.Snapshot()
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, names(s.Files))
	assert.Equal(t, int64(99), s.Files[0].Size)
	assert.Equal(t, "application/pdf", s.Files[0].MediaType)
}

func TestAddFilesClearsValidationError(t *testing.T) {
	o, _ := newTestOrchestrator(newFakeBackend(), mode.Static(true), 3)
	require.Error(t, o.AddFiles(upload.FileRef{Name: "x.exe"}))
	require.NotNil(t, o.Snapshot().Err)

	require.NoError(t, o.AddFiles(pdf("ok.pdf")))
	assert.Nil(t, o.Snapshot().Err)
}

func TestRemoveFile(t *testing.T) {
	o, _ := newTestOrchestrator(newFakeBackend(), mode.Static(true), 3)
	require.NoError(t, o.AddFiles(pdf("a.pdf"), pdf("b.pdf")))
	require.Error(t, o.AddFiles(upload.FileRef{Name: "x.exe"}))

	require.Error(t, o.RemoveFile(2))
	require.Error(t, o.RemoveFile(-1))
	assert.Len(t, o.Snapshot().Files, 2, "out of range leaves state untouched")

	require.NoError(t, o.RemoveFile(0))
	s := o.Snapshot()
	assert.Equal(t, []string{"b.pdf"}, names(s.Files))
	assert.NotContains(t, s.Progress, "a.pdf")
	assert.Nil(t, s.Err, "stale error is cleared")
}

func TestStartAnalysisWithoutFiles(t *testing.T) {
	b := newFakeBackend()
	o, _ := newTestOrchestrator(b, mode.Static(false), 3)

	run, err := o.StartAnalysis(context.Background())
	assert.Nil(t, run)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindValidation, pe.Kind)
	assert.Equal(t, ReasonNoFiles, pe.Reason)
	assert.ErrorIs(t, err, ErrNoFiles)
	assert.Equal(t, StatusIdle, o.Snapshot().Status)
	assert.Equal(t, 0, b.total())
}

func TestMockRunSucceedsWithoutBackendCalls(t *testing.T) {
	b := newFakeBackend()
	o, _ := newTestOrchestrator(b, mode.Static(true), 3)
	require.NoError(t, o.AddFiles(pdf("exam.pdf"), pdf("extra.pdf")))

	run, err := o.StartAnalysis(context.Background())
	require.NoError(t, err)
	s, err := waitRun(t, run)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, s.Status)
	assert.True(t, s.Mock)
	assert.Nil(t, s.Err)
	require.NotNil(t, s.Extracted)
	assert.Equal(t, extract.Mock("exam.pdf"), s.Extracted)
	assert.Equal(t, MockDocumentID("exam.pdf"), s.DocumentID)
	assert.Equal(t, map[string]int{"exam.pdf": 100, "extra.pdf": 100}, s.Progress)
	assert.Equal(t, 0, b.total(), "mock mode never reaches the backend")
	assert.Equal(t, s, o.Snapshot())
}

func TestMockDelayIsBounded(t *testing.T) {
	tests := []struct {
		name   string
		jitter func(int64) int64
		want   time.Duration
	}{
		{"lower bound", func(int64) int64 { return 0 }, time.Second},
		{"upper bound", func(n int64) int64 { return n - 1 }, 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleep := &countingSleep{}
			o := NewOrchestrator(Options{
				Policy:       upload.NewPolicy([]string{"pdf"}, 0),
				Mode:         mode.Static(true),
				MockDelayMin: time.Second,
				MockDelayMax: 3 * time.Second,
				Jitter:       tt.jitter,
				Sleep:        sleep.Sleep,
				Logger:       discardLogger(),
			})
			require.NoError(t, o.AddFiles(pdf("a.pdf")))
			run, err := o.StartAnalysis(context.Background())
			require.NoError(t, err)
			_, err = waitRun(t, run)
			require.NoError(t, err)
			assert.Equal(t, []time.Duration{tt.want}, sleep.waits)
		})
	}
}

func TestLiveRunSucceeds(t *testing.T) {
	b := newFakeBackend()
	b.uploadProgress = [][2]int64{{512, 2048}, {1024, 2048}, {2048, 2048}}
	b.statuses = []statusReply{
		reply("processing"),
		{status: &client.DocumentStatus{Status: "completed", ProcessedData: map[string]any{
			"course_title": "Discrete Math",
			"exam_dates":   []any{map[string]any{"title": "Final", "date": "2026-06-01"}},
		}}},
	}
	o, m := newTestOrchestrator(b, mode.Static(false), 5)
	require.NoError(t, o.AddFiles(pdf("syllabus.pdf")))

	run, err := o.StartAnalysis(context.Background())
	require.NoError(t, err)
	s, err := waitRun(t, run)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, s.Status)
	assert.False(t, s.Mock)
	assert.Equal(t, "doc-1", s.DocumentID)
	assert.Equal(t, 100, s.Progress["syllabus.pdf"])
	require.NotNil(t, s.Extracted)
	assert.Equal(t, "Discrete Math", s.Extracted.CourseTitle)
	assert.True(t, s.Extracted.HasExamDates())
	require.NotNil(t, s.Job)
	assert.Equal(t, JobCompleted, s.Job.Status)
	assert.Equal(t, 2, s.Job.Attempt)

	assert.Equal(t, 1, b.count("upload"))
	assert.Equal(t, 1, b.count("trigger"))
	assert.Equal(t, int64(1), m.Snapshot().Operations[metrics.OpUpload].Count)
}

func TestLiveUploadFailureSkipsPoller(t *testing.T) {
	b := newFakeBackend()
	b.uploadErr = &client.HTTPError{Method: "POST", Path: "/documents/", StatusCode: 500}
	o, _ := newTestOrchestrator(b, mode.Static(false), 3)
	require.NoError(t, o.AddFiles(pdf("a.pdf")))

	run, err := o.StartAnalysis(context.Background())
	require.NoError(t, err)
	s, err := waitRun(t, run)

	assert.Equal(t, KindUpload, KindOf(err))
	assert.Equal(t, StatusFailed, s.Status)
	require.NotNil(t, s.Err)
	assert.Equal(t, KindUpload, s.Err.Kind)
	assert.True(t, s.Err.Retryable())
	assert.Equal(t, 0, b.count("trigger"))
	assert.Equal(t, 0, b.count("status"))
}

func TestLiveUploadWithoutDocumentHandle(t *testing.T) {
	b := newFakeBackend()
	b.doc = &client.Document{Status: "uploaded"}
	o, _ := newTestOrchestrator(b, mode.Static(false), 3)
	require.NoError(t, o.AddFiles(pdf("a.pdf")))

	run, err := o.StartAnalysis(context.Background())
	require.NoError(t, err)
	_, err = waitRun(t, run)
	assert.Equal(t, KindUpload, KindOf(err))
	assert.Equal(t, 0, b.count("trigger"))
}

func TestLiveTimeoutFailsSession(t *testing.T) {
	b := newFakeBackend()
	b.statuses = []statusReply{reply("processing")}
	o, _ := newTestOrchestrator(b, mode.Static(false), 4)
	require.NoError(t, o.AddFiles(pdf("a.pdf")))

	run, err := o.StartAnalysis(context.Background())
	require.NoError(t, err)
	s, err := waitRun(t, run)

	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, StatusFailed, s.Status)
	assert.Nil(t, s.Extracted, "no substitute data on timeout")
	assert.Equal(t, 4, b.count("status"))
}

func TestSupersededRunCannotMutateSession(t *testing.T) {
	b := newFakeBackend()
	b.uploadGate = make(chan struct{})
	o, m := newTestOrchestrator(b, mode.Static(false), 3)
	require.NoError(t, o.AddFiles(pdf("exam.pdf")))

	first, err := o.StartAnalysis(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.count("upload") == 1 }, time.Second, time.Millisecond)

	second, err := o.StartAnalysis(mode.WithMock(context.Background(), true))
	require.NoError(t, err)

	_, err = waitRun(t, first)
	assert.ErrorIs(t, err, ErrSuperseded)

	s, err := waitRun(t, second)
	require.NoError(t, err)
	assert.Equal(t, extract.SourceMock, s.Extracted.Source)

	close(b.uploadGate)
	require.Eventually(t, func() bool {
		return m.Counter(metrics.CounterStaleResponses) > 0
	}, time.Second, time.Millisecond)

	after := o.Snapshot()
	assert.Equal(t, StatusSucceeded, after.Status)
	assert.Equal(t, MockDocumentID("exam.pdf"), after.DocumentID)
	assert.Equal(t, extract.SourceMock, after.Extracted.Source)
	assert.Equal(t, 0, b.count("trigger"), "stale upload never reaches the poller")
}

func TestModeIsEvaluatedPerRun(t *testing.T) {
	b := newFakeBackend()
	b.statuses = []statusReply{{status: &client.DocumentStatus{Status: "completed", ProcessedData: map[string]any{"title": "Live"}}}}

	var mu sync.Mutex
	flag := "1"
	sel := mode.Env{Key: "MAREPO_MOCK", Lookup: func(string) string {
		mu.Lock()
		defer mu.Unlock()
		return flag
	}}
	o, _ := newTestOrchestrator(b, sel, 3)
	require.NoError(t, o.AddFiles(pdf("a.pdf")))

	run, err := o.StartAnalysis(context.Background())
	require.NoError(t, err)
	s, err := waitRun(t, run)
	require.NoError(t, err)
	assert.True(t, s.Mock)
	assert.Equal(t, 0, b.total())

	mu.Lock()
	flag = "0"
	mu.Unlock()

	run, err = o.StartAnalysis(context.Background())
	require.NoError(t, err)
	s, err = waitRun(t, run)
	require.NoError(t, err)
	assert.False(t, s.Mock)
	assert.Equal(t, "Live", s.Extracted.CourseTitle)
	assert.Equal(t, 1, b.count("upload"))
}

func TestCloseCancelsOutstandingRun(t *testing.T) {
	b := newFakeBackend()
	b.statuses = []statusReply{reply("processing")}
	o, _ := newTestOrchestrator(b, mode.Static(false), 100)
	o.poller.Sleep = blockingSleep
	require.NoError(t, o.AddFiles(pdf("a.pdf")))

	updates, unsubscribe := o.Subscribe()
	defer unsubscribe()

	run, err := o.StartAnalysis(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return o.Snapshot().Status == StatusAnalyzing }, time.Second, time.Millisecond)

	o.Close()
	_, err = waitRun(t, run)
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, 0, b.count("status"), "cancel stops the pending wait")

	for range updates {
	}
	_, err = o.StartAnalysis(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, o.AddFiles(pdf("b.pdf")), ErrClosed)
}

func TestCancelledCallerFailsRun(t *testing.T) {
	b := newFakeBackend()
	o, _ := newTestOrchestrator(b, mode.Static(false), 100)
	o.poller.Sleep = blockingSleep
	require.NoError(t, o.AddFiles(pdf("a.pdf")))

	ctx, cancel := context.WithCancel(context.Background())
	run, err := o.StartAnalysis(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return o.Snapshot().Status == StatusAnalyzing }, time.Second, time.Millisecond)
	cancel()

	s, err := waitRun(t, run)
	assert.Equal(t, KindUnexpected, KindOf(err))
	assert.Equal(t, StatusFailed, s.Status)
}

func TestSubscribeReceivesLatestSnapshot(t *testing.T) {
	o, _ := newTestOrchestrator(newFakeBackend(), mode.Static(true), 3)
	updates, unsubscribe := o.Subscribe()

	require.NoError(t, o.AddFiles(pdf("a.pdf")))
	require.NoError(t, o.AddFiles(pdf("b.pdf")))

	s := <-updates
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, names(s.Files), "only the latest change is buffered")

	unsubscribe()
	_, open := <-updates
	assert.False(t, open)
}

func TestProgressNeverMovesBackwards(t *testing.T) {
	s := Session{Progress: map[string]int{"a.pdf": 0}}
	s.setProgress("a.pdf", 60)
	s.setProgress("a.pdf", 30)
	assert.Equal(t, 60, s.Progress["a.pdf"])
	s.setProgress("a.pdf", 150)
	assert.Equal(t, 100, s.Progress["a.pdf"])
	s.setProgress("gone.pdf", 50)
	assert.NotContains(t, s.Progress, "gone.pdf")
}

func TestSnapshotIsACopy(t *testing.T) {
	o, _ := newTestOrchestrator(newFakeBackend(), mode.Static(true), 3)
	require.NoError(t, o.AddFiles(pdf("a.pdf")))

	s := o.Snapshot()
	s.Files[0].Name = "mutated.pdf"
	s.Progress["a.pdf"] = 77

	fresh := o.Snapshot()
	assert.Equal(t, "a.pdf", fresh.Files[0].Name)
	assert.Equal(t, 0, fresh.Progress["a.pdf"])
}

func names(files []upload.FileRef) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}
