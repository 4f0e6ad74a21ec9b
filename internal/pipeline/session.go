package pipeline

import (
	"maps"
	"slices"

	"github.com/jacobsvennevik/marepo/internal/extract"
	"github.com/jacobsvennevik/marepo/internal/upload"
)

// Status is the lifecycle state of an upload session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusUploading Status = "uploading"
	StatusAnalyzing Status = "analyzing"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Done reports whether the session holds a final analysis outcome.
func (s Status) Done() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Session is the state of one upload session. Files[0] is the analysis
// target; further files are accepted and tracked but not analyzed.
type Session struct {
	ID         string
	Files      []upload.FileRef
	Progress   map[string]int // file name -> 0..100
	Status     Status
	Err        *Error
	DocumentID string
	Extracted  *extract.Metadata
	Mock       bool
	Job        *JobState // latest job of the current run, if any
}

// Primary returns the file analysis runs on.
func (s Session) Primary() (upload.FileRef, bool) {
	if len(s.Files) == 0 {
		return upload.FileRef{}, false
	}
	return s.Files[0], true
}

// Busy reports whether a run is in flight.
func (s Session) Busy() bool {
	return s.Status == StatusUploading || s.Status == StatusAnalyzing
}

// clone returns a copy that shares no mutable state with s.
func (s Session) clone() Session {
	c := s
	c.Files = slices.Clone(s.Files)
	c.Progress = maps.Clone(s.Progress)
	if s.Job != nil {
		j := *s.Job
		c.Job = &j
	}
	return c
}

// setProgress records upload progress for a file still in the session.
// Progress never moves backwards within a run.
func (s *Session) setProgress(name string, pct int) {
	pct = min(max(pct, 0), 100)
	if cur, ok := s.Progress[name]; ok && pct > cur {
		s.Progress[name] = pct
	}
}
