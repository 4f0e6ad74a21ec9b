package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jacobsvennevik/marepo/internal/extract"
	"github.com/jacobsvennevik/marepo/internal/metrics"
	"github.com/jacobsvennevik/marepo/internal/mode"
	"github.com/jacobsvennevik/marepo/internal/upload"
)

// Default bounds of the simulated mock-mode analysis time.
const (
	DefaultMockDelayMin = time.Second
	DefaultMockDelayMax = 3 * time.Second
)

// Options configures an Orchestrator.
type Options struct {
	Policy  upload.Policy
	Backend Backend
	Mode    mode.Selector
	// Poller runs the processing job. Nil builds one from Backend, Mode,
	// Logger and Metrics with default polling settings.
	Poller       *Poller
	MockDelayMin time.Duration
	MockDelayMax time.Duration
	// Jitter returns a value in [0, n). Defaults to rand.Int64N.
	Jitter  func(n int64) int64
	Sleep   SleepFunc
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Orchestrator owns one upload session: it gates files, uploads the primary
// file and hands the document to the poller. Every state write is tied to
// the run that produced it and is dropped once that run is superseded.
type Orchestrator struct {
	policy   upload.Policy
	backend  Backend
	mode     mode.Selector
	poller   *Poller
	delayMin time.Duration
	delayMax time.Duration
	jitter   func(n int64) int64
	sleep    SleepFunc
	logger   *slog.Logger
	metrics  *metrics.Collector

	mu      sync.Mutex
	session Session
	epoch   uint64
	cancel  context.CancelFunc
	run     *Run
	job     *Job
	closed  bool
	subs    map[int]chan Session
	nextSub int
}

// NewOrchestrator creates an orchestrator with an empty idle session.
func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		policy:   opts.Policy,
		backend:  opts.Backend,
		mode:     opts.Mode,
		poller:   opts.Poller,
		delayMin: opts.MockDelayMin,
		delayMax: opts.MockDelayMax,
		jitter:   opts.Jitter,
		sleep:    opts.Sleep,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		session: Session{
			ID:       uuid.New().String(),
			Progress: make(map[string]int),
			Status:   StatusIdle,
		},
		subs: make(map[int]chan Session),
	}
	if o.mode == nil {
		o.mode = mode.Static(false)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.jitter == nil {
		o.jitter = rand.Int64N
	}
	if o.sleep == nil {
		o.sleep = Sleep
	}
	if o.delayMin <= 0 && o.delayMax <= 0 {
		o.delayMin, o.delayMax = DefaultMockDelayMin, DefaultMockDelayMax
	}
	if o.poller == nil {
		o.poller = &Poller{
			Backend: o.backend,
			Mode:    o.mode,
			Logger:  o.logger,
			Metrics: o.metrics,
			Sleep:   opts.Sleep,
		}
	}
	o.logger = o.logger.With("session_id", o.session.ID)
	return o
}

// Snapshot returns a copy of the session safe to read from any goroutine.
func (o *Orchestrator) Snapshot() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Session {
	s := o.session.clone()
	if o.job != nil {
		js := o.job.Snapshot()
		s.Job = &js
	}
	return s
}

// AddFiles gates each candidate and appends the admitted ones. A file whose
// name is already in the session replaces it. Rejected files are not added;
// the returned error joins one *Error of kind validation per rejection and
// the first of them becomes the session error.
func (o *Orchestrator) AddFiles(files ...upload.FileRef) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}

	var rejected []error
	var messages []string
	for _, f := range files {
		if f.MediaType == "" {
			f.MediaType = upload.DetectMediaType(f.Name)
		}
		d := o.policy.Admit(f)
		if !d.Admitted {
			msg := o.policy.Describe(f, d.Reason)
			rejected = append(rejected, &Error{Kind: KindValidation, Reason: string(d.Reason), File: f.Name, Message: msg})
			messages = append(messages, msg)
			o.logger.Info("file rejected", "file", f.Name, "reason", d.Reason, "size", f.Size)
			continue
		}

		if i := o.indexLocked(f.Name); i >= 0 {
			o.session.Files[i] = f
		} else {
			o.session.Files = append(o.session.Files, f)
		}
		o.session.Progress[f.Name] = 0
		o.logger.Debug("file admitted", "file", f.Name, "size", f.Size)
	}

	if len(rejected) > 0 {
		first := *rejected[0].(*Error)
		first.Message = strings.Join(messages, "; ")
		o.session.Err = &first
	} else if o.session.Err != nil && o.session.Err.Kind == KindValidation {
		o.session.Err = nil
	}
	o.notifyLocked()
	return errors.Join(rejected...)
}

func (o *Orchestrator) indexLocked(name string) int {
	for i, f := range o.session.Files {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// RemoveFile removes the file at index along with its progress entry and
// clears any stale error.
func (o *Orchestrator) RemoveFile(index int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if index < 0 || index >= len(o.session.Files) {
		return fmt.Errorf("remove file: index %d out of range [0,%d)", index, len(o.session.Files))
	}

	name := o.session.Files[index].Name
	o.session.Files = append(o.session.Files[:index], o.session.Files[index+1:]...)
	delete(o.session.Progress, name)
	o.session.Err = nil
	o.notifyLocked()
	return nil
}

// StartAnalysis begins a new run on the primary file. Any earlier run is
// superseded: its context is cancelled and its late results are dropped.
// Starting with no files fails synchronously with a validation error.
func (o *Orchestrator) StartAnalysis(ctx context.Context) (*Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}

	primary, ok := o.session.Primary()
	if !ok {
		err := &Error{Kind: KindValidation, Reason: ReasonNoFiles, Message: "Add a file before starting the analysis.", Cause: ErrNoFiles}
		o.session.Err = err
		o.notifyLocked()
		return nil, err
	}

	o.invalidateLocked()
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	run := newRun(o.epoch)
	o.run = run
	o.job = nil

	mock := o.mode.IsMock(ctx)
	o.session.Status = StatusUploading
	o.session.Err = nil
	o.session.Extracted = nil
	o.session.DocumentID = ""
	o.session.Mock = mock
	for name := range o.session.Progress {
		o.session.Progress[name] = 0
	}
	o.notifyLocked()

	o.logger.Info("analysis started", "file", primary.Name, "mock", mock, "run", run.Epoch)
	go o.execute(runCtx, cancel, run, primary, mock)
	return run, nil
}

// invalidateLocked bumps the epoch and cancels the outstanding run.
func (o *Orchestrator) invalidateLocked() {
	o.epoch++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	if o.run != nil {
		o.run.finish(Session{}, ErrSuperseded)
		o.run = nil
	}
}

// Close tears the session down. Outstanding work is cancelled and can no
// longer change any state; subscriptions are closed.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.invalidateLocked()
	o.closed = true
	o.job = nil
	for id, ch := range o.subs {
		close(ch)
		delete(o.subs, id)
	}
	o.logger.Debug("session closed")
}

// Subscribe returns a channel receiving a snapshot after every state change.
// Slow receivers only see the latest snapshot. Call the returned func to
// unsubscribe.
func (o *Orchestrator) Subscribe() (<-chan Session, func()) {
	ch := make(chan Session, 1)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		close(ch)
		return ch, func() {}
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if c, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(c)
		}
	}
}

func (o *Orchestrator) notifyLocked() {
	if len(o.subs) == 0 {
		return
	}
	s := o.snapshotLocked()
	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s.clone()
	}
}

// commit applies fn if run is still current and returns the new state.
func (o *Orchestrator) commit(run *Run, fn func(s *Session)) (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.epoch != run.Epoch {
		o.metrics.Inc(metrics.CounterStaleResponses)
		o.logger.Debug("discarding stale session update", "run", run.Epoch, "current", o.epoch)
		return Session{}, false
	}
	fn(&o.session)
	o.notifyLocked()
	return o.snapshotLocked(), true
}

func (o *Orchestrator) current(epoch uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.closed && o.epoch == epoch
}

func (o *Orchestrator) newJob(run *Run, documentID, fileName string) *Job {
	job := NewJob(documentID, fileName, run.Epoch, func() bool { return o.current(run.Epoch) })
	o.mu.Lock()
	if o.epoch == run.Epoch {
		o.job = job
	}
	o.mu.Unlock()
	return job
}

func (o *Orchestrator) execute(ctx context.Context, cancel context.CancelFunc, run *Run, primary upload.FileRef, mock bool) {
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("analysis goroutine panicked", "panic", r)
			o.finish(run, &Error{Kind: KindUnexpected, File: primary.Name, Message: fmt.Sprintf("internal panic: %v", r)}, "", nil)
		}
	}()

	var (
		docID string
		md    *extract.Metadata
		err   error
	)
	if mock {
		docID, md, err = o.analyzeMock(ctx, run, primary)
	} else {
		docID, md, err = o.analyzeLive(ctx, run, primary)
	}
	o.finish(run, err, docID, md)
}

// finish commits the outcome of run and releases its waiters.
func (o *Orchestrator) finish(run *Run, err error, docID string, md *extract.Metadata) {
	if err != nil {
		pe := asError(err)
		if errors.Is(err, ErrSuperseded) {
			pe = &Error{Kind: KindUnexpected, Message: "analysis cancelled", Cause: err}
		}
		snap, ok := o.commit(run, func(s *Session) {
			s.Status = StatusFailed
			s.Err = pe
		})
		if !ok {
			run.finish(Session{}, ErrSuperseded)
			return
		}
		o.logger.Warn("analysis failed", "kind", pe.Kind, "error", pe)
		run.finish(snap, pe)
		return
	}

	snap, ok := o.commit(run, func(s *Session) {
		s.Status = StatusSucceeded
		s.Err = nil
		s.DocumentID = docID
		s.Extracted = md
	})
	if !ok {
		run.finish(Session{}, ErrSuperseded)
		return
	}
	o.logger.Info("analysis succeeded", "document_id", docID, "source", sourceOf(md))
	run.finish(snap, nil)
}

func (o *Orchestrator) analyzeMock(ctx context.Context, run *Run, primary upload.FileRef) (string, *extract.Metadata, error) {
	if _, ok := o.commit(run, func(s *Session) {
		for _, f := range s.Files {
			s.setProgress(f.Name, 100)
		}
	}); !ok {
		return "", nil, ErrSuperseded
	}

	delay := o.mockDelay()
	o.logger.Debug("simulating analysis", "delay", delay)
	if err := o.sleep(ctx, delay); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrSuperseded, err)
	}

	docID := MockDocumentID(primary.Name)
	if _, ok := o.commit(run, func(s *Session) {
		s.Status = StatusAnalyzing
		s.DocumentID = docID
	}); !ok {
		return "", nil, ErrSuperseded
	}

	job := o.newJob(run, docID, primary.Name)
	md, err := o.poller.Run(mode.WithMock(ctx, true), job)
	return docID, md, err
}

func (o *Orchestrator) analyzeLive(ctx context.Context, run *Run, primary upload.FileRef) (string, *extract.Metadata, error) {
	if o.backend == nil {
		return "", nil, &Error{Kind: KindUnexpected, File: primary.Name, Message: "no backend configured for live mode"}
	}

	last := -1
	progress := func(sent, total int64) {
		if total <= 0 {
			return
		}
		pct := int(sent * 100 / total)
		if pct == last {
			return
		}
		last = pct
		o.commit(run, func(s *Session) { s.setProgress(primary.Name, pct) })
	}

	done := o.metrics.Time(metrics.OpUpload)
	doc, err := o.backend.Upload(ctx, primary, progress)
	done(err)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, fmt.Errorf("%w: %w", ErrSuperseded, err)
		}
		return "", nil, &Error{Kind: KindUpload, File: primary.Name, Message: "upload failed", Cause: err}
	}
	if doc == nil || doc.ID == "" {
		return "", nil, &Error{Kind: KindUpload, File: primary.Name, Message: "upload response carried no document handle"}
	}

	if _, ok := o.commit(run, func(s *Session) {
		s.setProgress(primary.Name, 100)
		s.Status = StatusAnalyzing
		s.DocumentID = doc.ID
	}); !ok {
		return "", nil, ErrSuperseded
	}
	o.logger.Info("upload complete", "file", primary.Name, "document_id", doc.ID)

	job := o.newJob(run, doc.ID, primary.Name)
	md, err := o.poller.Run(mode.WithMock(ctx, false), job)
	return doc.ID, md, err
}

func (o *Orchestrator) mockDelay() time.Duration {
	lo, hi := o.delayMin, o.delayMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(o.jitter(int64(hi-lo)+1))
}

// MockDocumentID derives a stable document handle for mock runs.
func MockDocumentID(fileName string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("marepo:mock:"+fileName)).String()
}

// Run is one analysis attempt of a session.
type Run struct {
	Epoch uint64

	once   sync.Once
	done   chan struct{}
	result Session
	err    error
}

func newRun(epoch uint64) *Run {
	return &Run{Epoch: epoch, done: make(chan struct{})}
}

func (r *Run) finish(s Session, err error) {
	r.once.Do(func() {
		r.result = s
		r.err = err
		close(r.done)
	})
}

// Done is closed when the run has a final outcome.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run ends and returns the session as the run left
// it. The error is the run's *Error, or ErrSuperseded if a newer run or
// teardown invalidated it.
func (r *Run) Wait(ctx context.Context) (Session, error) {
	select {
	case <-ctx.Done():
		return Session{}, ctx.Err()
	case <-r.done:
		return r.result, r.err
	}
}
