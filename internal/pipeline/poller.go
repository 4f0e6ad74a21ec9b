package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jacobsvennevik/marepo/internal/client"
	"github.com/jacobsvennevik/marepo/internal/extract"
	"github.com/jacobsvennevik/marepo/internal/metrics"
	"github.com/jacobsvennevik/marepo/internal/mode"
)

// Default polling budget: one check per second for three minutes.
const (
	DefaultPollInterval    = time.Second
	DefaultPollMaxAttempts = 180
)

// Poller triggers processing of an uploaded document and polls its status
// until the job reaches a terminal state.
type Poller struct {
	Backend     Backend
	Mode        mode.Selector
	Interval    time.Duration
	MaxAttempts int
	Logger      *slog.Logger
	Metrics     *metrics.Collector
	Sleep       SleepFunc
}

func (p *Poller) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Poller) maxAttempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return DefaultPollMaxAttempts
}

func (p *Poller) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return DefaultPollInterval
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// isMock honours a mode already decided for the enclosing operation before
// asking the selector.
func (p *Poller) isMock(ctx context.Context) bool {
	if mock, ok := mode.FromContext(ctx); ok {
		return mock
	}
	return p.Mode != nil && p.Mode.IsMock(ctx)
}

// alive reports whether a response may still transition the job.
func (p *Poller) alive(ctx context.Context, job *Job) bool {
	return ctx.Err() == nil && job.Live()
}

// stale records a dropped response and returns the error that ends the run.
func (p *Poller) stale(ctx context.Context, job *Job) error {
	p.Metrics.Inc(metrics.CounterStaleResponses)
	p.logger().Debug("discarding stale job response", "job_id", job.ID, "document_id", job.DocumentID)
	if cause := context.Cause(ctx); cause != nil && job.Live() {
		return fmt.Errorf("%w: %w", ErrSuperseded, cause)
	}
	return ErrSuperseded
}

// Run drives job to a terminal state and returns the extracted metadata.
// Failures are returned as *Error; a job invalidated by its session or by
// ctx returns an error wrapping ErrSuperseded and is left untouched.
// A completed job that carried no data at all resolves to empty fallback
// metadata.
func (p *Poller) Run(ctx context.Context, job *Job) (*extract.Metadata, error) {
	if job.Status().Terminal() {
		st := job.Snapshot()
		if st.Err != nil {
			return nil, st.Err
		}
		return st.Extracted, nil
	}

	log := p.logger().With("job_id", job.ID, "document_id", job.DocumentID)

	if p.isMock(ctx) {
		return p.runMock(ctx, job, log)
	}

	done := p.Metrics.Time(metrics.OpTrigger)
	task, err := p.Backend.TriggerProcessing(ctx, job.DocumentID)
	done(err)
	if !p.alive(ctx, job) {
		return nil, p.stale(ctx, job)
	}
	if err != nil {
		return nil, p.fail(job, JobError, &Error{Kind: KindTrigger, File: job.FileName, Message: "failed to start processing", Cause: err}, log)
	}
	if task == nil || task.TaskID == "" {
		return nil, p.fail(job, JobError, &Error{Kind: KindTrigger, File: job.FileName, Message: ErrMissingTaskHandle.Error(), Cause: ErrMissingTaskHandle}, log)
	}

	limit := p.maxAttempts()
	job.start(task.TaskID, limit)
	log.Info("processing started", "task_id", task.TaskID, "max_attempts", limit)

	for job.attempts() < limit {
		if err := p.sleep(ctx, p.interval()); err != nil {
			return nil, p.stale(ctx, job)
		}
		attempt := job.nextAttempt()

		done := p.Metrics.Time(metrics.OpStatusPoll)
		st, err := p.Backend.Status(ctx, job.DocumentID, task.TaskID)
		done(err)
		if !p.alive(ctx, job) {
			return nil, p.stale(ctx, job)
		}
		if err != nil {
			p.Metrics.Inc(metrics.CounterPollErrors)
			log.Warn("status check failed", "attempt", attempt, "error", err)
			continue
		}

		switch normalizeStatus(st.Status) {
		case JobCompleted:
			md := p.resolve(ctx, job, st, log)
			if !p.alive(ctx, job) {
				return nil, p.stale(ctx, job)
			}
			if !job.complete(md) {
				return nil, p.stale(ctx, job)
			}
			log.Info("processing completed", "attempt", attempt, "source", sourceOf(md))
			return md, nil

		case JobError:
			msg := strings.TrimSpace(st.Error)
			if msg == "" {
				msg = "document processing failed"
			}
			return nil, p.fail(job, JobError, &Error{Kind: KindProcessing, File: job.FileName, Message: msg}, log)

		case JobPending, JobProcessing:
			log.Debug("still processing", "attempt", attempt, "status", st.Status)

		default:
			log.Debug("unknown processing status", "attempt", attempt, "status", st.Status)
		}
	}

	p.Metrics.Inc(metrics.CounterTimeouts)
	return nil, p.fail(job, JobTimedOut, &Error{
		Kind:    KindTimeout,
		File:    job.FileName,
		Message: fmt.Sprintf("no result after %d status checks", limit),
	}, log)
}

func (p *Poller) runMock(ctx context.Context, job *Job, log *slog.Logger) (*extract.Metadata, error) {
	job.start("", p.maxAttempts())
	md := extract.Mock(job.FileName)
	if !p.alive(ctx, job) || !job.complete(md) {
		return nil, p.stale(ctx, job)
	}
	p.Metrics.Inc(metrics.CounterExtractionPrefix + string(md.Source))
	log.Info("mock processing completed")
	return md, nil
}

func (p *Poller) fail(job *Job, status JobStatus, e *Error, log *slog.Logger) error {
	if !job.fail(status, e) {
		return ErrSuperseded
	}
	log.Warn("processing failed", "kind", e.Kind, "error", e)
	return e
}

// resolve picks the extraction source for a completed job: structured data
// on the status response, then the processed-data endpoint, then the raw
// metadata and text.
func (p *Poller) resolve(ctx context.Context, job *Job, st *client.DocumentStatus, log *slog.Logger) *extract.Metadata {
	if len(st.ProcessedData) > 0 {
		// Structured data always wins; a schema mismatch is only reported.
		p.checkProcessed(st.ProcessedData, extract.SourceStructured, log)
	}
	if md := extract.FromMap(st.ProcessedData, extract.SourceStructured); md != nil {
		p.Metrics.Inc(metrics.CounterExtractionPrefix + string(md.Source))
		return md
	}

	done := p.Metrics.Time(metrics.OpProcessedData)
	data, err := p.Backend.ProcessedData(ctx, job.DocumentID)
	done(err)
	if err != nil {
		var httpErr *client.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == 404 {
			log.Debug("no processed data available")
		} else {
			log.Warn("processed data fetch failed", "error", err)
		}
	} else if p.checkProcessed(data, extract.SourceProcessedEndpoint, log) {
		if md := extract.FromMap(data, extract.SourceProcessedEndpoint); md != nil {
			p.Metrics.Inc(metrics.CounterExtractionPrefix + string(md.Source))
			return md
		}
	}

	md := extract.FromRaw(st.Metadata, st.OriginalText)
	if md == nil {
		log.Warn("completed job carried no extractable data")
		md = &extract.Metadata{Source: extract.SourceRawFallback, Confidence: extract.ConfidenceFallback}
	} else {
		log.Warn("using raw fallback extraction", "confidence", md.Confidence)
	}
	p.Metrics.Inc(metrics.CounterExtractionPrefix + string(md.Source))
	return md
}

// checkProcessed reports whether a processed payload matches the expected
// shape. Mismatches are logged and counted.
func (p *Poller) checkProcessed(data map[string]any, src extract.Source, log *slog.Logger) bool {
	if err := extract.CheckProcessed(data); err != nil {
		log.Warn("processed data does not match schema", "source", src, "error", err)
		p.Metrics.Inc(metrics.CounterSchemaRejects)
		return false
	}
	return true
}

// normalizeStatus maps server status strings, including common synonyms,
// onto job statuses. Unknown values return "".
func normalizeStatus(s string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued", "uploaded", "received":
		return JobPending
	case "processing", "running", "in_progress", "started":
		return JobProcessing
	case "completed", "complete", "done", "success", "succeeded", "processed":
		return JobCompleted
	case "error", "failed", "failure":
		return JobError
	default:
		return ""
	}
}

func sourceOf(md *extract.Metadata) extract.Source {
	if md == nil {
		return ""
	}
	return md.Source
}
