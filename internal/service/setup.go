// Package service ties the analysis pipeline to the project-setup wizard.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jacobsvennevik/marepo/internal/client"
	"github.com/jacobsvennevik/marepo/internal/extract"
	"github.com/jacobsvennevik/marepo/internal/metrics"
	"github.com/jacobsvennevik/marepo/internal/mode"
	"github.com/jacobsvennevik/marepo/internal/pipeline"
	"github.com/jacobsvennevik/marepo/internal/upload"
	"github.com/jacobsvennevik/marepo/internal/wizard"
)

// ErrIncomplete is returned by Finalize before the wizard ran to its end.
var ErrIncomplete = errors.New("wizard not complete")

// ProjectSink creates projects from finished wizards.
type ProjectSink interface {
	CreateProject(ctx context.Context, input client.ProjectInput) (*client.Project, error)
}

var _ ProjectSink = (*client.Client)(nil)

// SetupOptions configures a Setup.
type SetupOptions struct {
	Orchestrator *pipeline.Orchestrator
	Projects     ProjectSink
	Mode         mode.Selector
	// Store persists progress. Nil disables autosave.
	Store *wizard.Store
	// Resume restores a saved wizard.
	Resume *wizard.Snapshot
	// SaveDelay debounces autosave writes.
	SaveDelay time.Duration
	Logger    *slog.Logger
	Metrics   *metrics.Collector
}

// Setup is one project-setup wizard instance. It owns a sequencer and the
// orchestrator that analyzes the syllabus.
type Setup struct {
	seq      *wizard.Sequencer
	orch     *pipeline.Orchestrator
	projects ProjectSink
	mode     mode.Selector
	store    *wizard.Store
	writer   *wizard.DebouncedWriter
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// NewSetup creates a wizard, restoring opts.Resume when set.
func NewSetup(opts SetupOptions) *Setup {
	s := &Setup{
		orch:     opts.Orchestrator,
		projects: opts.Projects,
		mode:     opts.Mode,
		store:    opts.Store,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if s.mode == nil {
		s.mode = mode.Static(false)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.store != nil {
		s.writer = wizard.NewDebouncedWriter(s.store, opts.SaveDelay, s.logger)
	}

	var data wizard.Data
	if opts.Resume != nil {
		data = opts.Resume.Data.Clone()
	}
	s.seq = wizard.New(wizard.ProjectSetupSteps(), data,
		wizard.OnChange(s.autosave),
		wizard.OnComplete(func(d wizard.Data) {
			s.logger.Info("wizard complete", "project", d.ProjectName)
		}),
		wizard.OnExit(func() {
			s.logger.Info("wizard exited")
		}),
	)

	if opts.Resume != nil {
		if err := s.seq.JumpTo(opts.Resume.StepID); err != nil {
			s.logger.Warn("cannot resume at saved step", "step", opts.Resume.StepID, "error", err)
		} else {
			s.logger.Info("wizard resumed", "step", opts.Resume.StepID)
		}
	}
	return s
}

func (s *Setup) autosave(step wizard.Step, data wizard.Data) {
	if s.writer != nil {
		s.writer.Schedule(wizard.Snapshot{StepID: step.ID, Data: data})
	}
}

// Wizard returns the underlying sequencer.
func (s *Setup) Wizard() *wizard.Sequencer {
	return s.seq
}

// Session returns the current analysis session.
func (s *Setup) Session() pipeline.Session {
	return s.orch.Snapshot()
}

// AddSyllabus stages files for analysis.
func (s *Setup) AddSyllabus(files ...upload.FileRef) error {
	return s.orch.AddFiles(files...)
}

// Analyze runs the syllabus analysis to completion. On success the document,
// the analyzed files and any usable extraction are stored in the wizard
// data, which re-evaluates which steps are shown. On failure the wizard data
// is left as it was.
func (s *Setup) Analyze(ctx context.Context) (*extract.Metadata, error) {
	run, err := s.orch.StartAnalysis(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := run.Wait(ctx)
	if err != nil {
		return nil, err
	}

	s.seq.Update(func(d *wizard.Data) {
		d.SyllabusFiles = sess.Files
		d.DocumentID = sess.DocumentID
		if !sess.Extracted.Empty() {
			d.Extracted = sess.Extracted
		} else {
			d.Extracted = nil
		}
	})
	return sess.Extracted, nil
}

// Finalize validates the collected data and creates the project. In mock
// mode no request is made and a stable fake project is returned.
func (s *Setup) Finalize(ctx context.Context) (*client.Project, error) {
	if !s.seq.Completed() {
		return nil, ErrIncomplete
	}
	data := s.seq.Data()
	if err := data.Validate(); err != nil {
		return nil, err
	}
	input := ProjectInput(data)

	if s.mode.IsMock(ctx) {
		s.logger.Info("mock mode: project not submitted", "name", input.Name)
		return &client.Project{
			ID:   uuid.NewSHA1(uuid.NameSpaceURL, []byte("marepo:project:"+input.Name)).String(),
			Name: input.Name,
		}, s.discard()
	}

	if s.projects == nil {
		return nil, errors.New("no project backend configured")
	}
	done := s.metrics.Time(metrics.OpCreateProject)
	p, err := s.projects.CreateProject(ctx, input)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	s.logger.Info("project created", "id", p.ID, "name", p.Name)
	return p, s.discard()
}

// discard drops saved progress once the project exists.
func (s *Setup) discard() error {
	if s.store == nil {
		return nil
	}
	if err := s.writer.Close(); err != nil {
		s.logger.Warn("failed to flush wizard progress", "error", err)
	}
	return s.store.Clear()
}

// Close cancels any running analysis and flushes pending progress.
func (s *Setup) Close() error {
	s.orch.Close()
	if s.writer != nil {
		return s.writer.Close()
	}
	return nil
}

// ProjectInput maps wizard data onto the project creation payload.
func ProjectInput(d wizard.Data) client.ProjectInput {
	in := client.ProjectInput{
		Name:           d.ProjectName,
		ProjectType:    string(d.Purpose),
		EducationLevel: d.EducationLevel,
		Goal:           d.Goal,
		StudyFrequency: d.StudyFrequency,
		Collaboration:  d.Collaboration,
	}
	if md := d.Extracted; md != nil {
		in.CourseName = md.CourseTitle
		in.CourseCode = md.CourseCode
		in.Instructor = md.Instructor
		in.Term = md.Term
		in.Topics = md.Topics
	}
	for _, item := range d.Dates() {
		if item.Date == "" {
			continue
		}
		in.ImportantDates = append(in.ImportantDates, client.ProjectDate{Title: item.Title, Date: item.Date, Kind: item.Kind})
	}
	if d.DocumentID != "" {
		in.DocumentIDs = []string{d.DocumentID}
	}

	extra := map[string]any{}
	if names := fileNames(d.CourseContentFiles); len(names) > 0 {
		extra["course_content_files"] = names
	}
	if names := fileNames(d.TestFiles); len(names) > 0 {
		extra["test_files"] = names
	}
	if len(extra) > 0 {
		in.Extra = extra
	}
	return in
}

func fileNames(files []upload.FileRef) []string {
	var out []string
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out
}
