// Package extract normalizes the document metadata returned by the
// processing backend into one shape, whatever route it arrived by.
package extract

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Source records how a Metadata value was obtained.
type Source string

const (
	// SourceStructured is the processed_data object on the status response.
	SourceStructured Source = "structured"
	// SourceProcessedEndpoint is the secondary processed-data fetch.
	SourceProcessedEndpoint Source = "processed_endpoint"
	// SourceRawFallback is best-effort parsing of raw metadata and text.
	SourceRawFallback Source = "raw_fallback"
	// SourceMock is the deterministic mock-mode payload.
	SourceMock Source = "mock"
)

// Confidence levels attached by source.
const (
	ConfidenceStructured = 1.0
	ConfidenceFallback   = 0.3
)

// DatedItem is an exam, assignment or other dated course event.
type DatedItem struct {
	Title string `json:"title" yaml:"title"`
	Date  string `json:"date,omitempty" yaml:"date,omitempty"`
	Kind  string `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// Metadata is the normalized result of document analysis.
type Metadata struct {
	CourseTitle      string      `json:"course_title,omitempty" yaml:"course_title,omitempty"`
	CourseCode       string      `json:"course_code,omitempty" yaml:"course_code,omitempty"`
	Instructor       string      `json:"instructor,omitempty" yaml:"instructor,omitempty"`
	Term             string      `json:"term,omitempty" yaml:"term,omitempty"`
	Description      string      `json:"description,omitempty" yaml:"description,omitempty"`
	Topics           []string    `json:"topics,omitempty" yaml:"topics,omitempty"`
	LearningOutcomes []string    `json:"learning_outcomes,omitempty" yaml:"learning_outcomes,omitempty"`
	Exams            []DatedItem `json:"exams,omitempty" yaml:"exams,omitempty"`
	Assignments      []DatedItem `json:"assignments,omitempty" yaml:"assignments,omitempty"`

	Source     Source  `json:"source" yaml:"source"`
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// Raw is the payload the metadata was normalized from.
	Raw map[string]any `json:"raw,omitempty" yaml:"raw,omitempty"`
}

// Empty reports whether no usable field was extracted.
func (m *Metadata) Empty() bool {
	if m == nil {
		return true
	}
	return m.CourseTitle == "" && m.CourseCode == "" && m.Instructor == "" &&
		m.Term == "" && m.Description == "" && len(m.Topics) == 0 &&
		len(m.LearningOutcomes) == 0 && len(m.Exams) == 0 && len(m.Assignments) == 0
}

// IsFallback reports whether the metadata came from best-effort parsing.
func (m *Metadata) IsFallback() bool {
	return m != nil && m.Source == SourceRawFallback
}

// HasExamDates reports whether at least one exam carries a date.
func (m *Metadata) HasExamDates() bool {
	if m == nil {
		return false
	}
	return slices.ContainsFunc(m.Exams, func(e DatedItem) bool { return e.Date != "" })
}

// Title returns the best display name for the analyzed document.
func (m *Metadata) Title() string {
	if m == nil {
		return ""
	}
	switch {
	case m.CourseCode != "" && m.CourseTitle != "":
		return fmt.Sprintf("%s: %s", m.CourseCode, m.CourseTitle)
	case m.CourseTitle != "":
		return m.CourseTitle
	default:
		return m.CourseCode
	}
}

// Key aliases accepted in processed payloads. Backends have shipped several
// spellings over time.
var (
	titleKeys       = []string{"course_title", "course_name", "title", "name"}
	codeKeys        = []string{"course_code", "code"}
	instructorKeys  = []string{"instructor", "professor", "teacher", "lecturer"}
	termKeys        = []string{"term", "semester", "session"}
	descriptionKeys = []string{"description", "summary", "overview", "course_description"}
	topicKeys       = []string{"topics", "key_topics", "subjects", "modules"}
	outcomeKeys     = []string{"learning_outcomes", "objectives", "learning_objectives"}
	examKeys        = []string{"exams", "exam_dates", "tests", "assessments"}
	assignmentKeys  = []string{"assignments", "deadlines", "important_dates"}
	itemTitleKeys   = []string{"title", "name", "type", "topic", "description"}
	itemDateKeys    = []string{"date", "due", "due_date", "when"}
)

// FromMap normalizes a processed-data object. It never fails: unknown keys
// are ignored and kept in Raw. A nil or empty map yields nil.
func FromMap(data map[string]any, src Source) *Metadata {
	if len(data) == 0 {
		return nil
	}
	raw := data
	// Some backends wrap the payload one level down.
	if inner, ok := data["metadata"].(map[string]any); ok && firstString(data, titleKeys) == "" {
		data = maps.Clone(data)
		for k, v := range inner {
			if _, exists := data[k]; !exists {
				data[k] = v
			}
		}
	}

	m := &Metadata{
		CourseTitle:      firstString(data, titleKeys),
		CourseCode:       firstString(data, codeKeys),
		Instructor:       firstString(data, instructorKeys),
		Term:             firstString(data, termKeys),
		Description:      firstString(data, descriptionKeys),
		Topics:           firstStrings(data, topicKeys),
		LearningOutcomes: firstStrings(data, outcomeKeys),
		Exams:            firstItems(data, examKeys, "exam"),
		Assignments:      firstItems(data, assignmentKeys, "assignment"),
		Source:           src,
		Confidence:       ConfidenceStructured,
		Raw:              raw,
	}
	if c, ok := toFloat(data["confidence"]); ok && c >= 0 && c <= 1 {
		m.Confidence = c
	}
	if src == SourceRawFallback {
		m.Confidence = min(m.Confidence, ConfidenceFallback)
	}
	return m
}

func firstString(data map[string]any, keys []string) string {
	for _, k := range keys {
		if s := asString(data[k]); s != "" {
			return s
		}
	}
	return ""
}

func firstStrings(data map[string]any, keys []string) []string {
	for _, k := range keys {
		if out := asStrings(data[k]); len(out) > 0 {
			return out
		}
	}
	return nil
}

func firstItems(data map[string]any, keys []string, kind string) []DatedItem {
	for _, k := range keys {
		if out := asItems(data[k], kind); len(out) > 0 {
			return out
		}
	}
	return nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	case float64, int, int64:
		return fmt.Sprint(t)
	default:
		return ""
	}
}

func asStrings(v any) []string {
	var out []string
	add := func(s string) {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	switch t := v.(type) {
	case []string:
		for _, s := range t {
			add(strings.TrimSpace(s))
		}
	case []any:
		for _, item := range t {
			if obj, ok := item.(map[string]any); ok {
				add(firstString(obj, itemTitleKeys))
				continue
			}
			add(asString(item))
		}
	case string:
		for _, part := range strings.Split(t, ",") {
			add(strings.TrimSpace(part))
		}
	}
	return out
}

func asItems(v any, kind string) []DatedItem {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []DatedItem
	for _, item := range list {
		switch t := item.(type) {
		case map[string]any:
			di := DatedItem{
				Title: firstString(t, itemTitleKeys),
				Date:  NormalizeDate(firstString(t, itemDateKeys)),
				Kind:  kind,
			}
			if di.Title == "" && di.Date == "" {
				continue
			}
			if di.Title == "" {
				di.Title = kind
			}
			out = append(out, di)
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out = append(out, DatedItem{Title: s, Kind: kind})
			}
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"01/02/2006",
}

// NormalizeDate converts recognized date spellings to YYYY-MM-DD and returns
// anything else trimmed but unchanged.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}
