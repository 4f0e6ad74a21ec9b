package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMap(t *testing.T) {
	data := map[string]any{
		"course_name": "Linear Algebra",
		"code":        "MATH-221",
		"professor":   "Dr. Noether",
		"semester":    "Spring 2026",
		"topics": []any{
			"Vector spaces",
			map[string]any{"name": "Eigenvalues"},
			"Vector spaces",
		},
		"exam_dates": []any{
			map[string]any{"type": "Midterm", "date": "March 3, 2026"},
			map[string]any{"date": "2026-05-20"},
			map[string]any{"note": "ignored"},
		},
		"unknown": 42,
	}

	m := FromMap(data, SourceStructured)
	require.NotNil(t, m)
	assert.Equal(t, "Linear Algebra", m.CourseTitle)
	assert.Equal(t, "MATH-221", m.CourseCode)
	assert.Equal(t, "Dr. Noether", m.Instructor)
	assert.Equal(t, "Spring 2026", m.Term)
	assert.Equal(t, []string{"Vector spaces", "Eigenvalues"}, m.Topics)
	assert.Equal(t, []DatedItem{
		{Title: "Midterm", Date: "2026-03-03", Kind: "exam"},
		{Title: "exam", Date: "2026-05-20", Kind: "exam"},
	}, m.Exams)
	assert.Equal(t, SourceStructured, m.Source)
	assert.Equal(t, ConfidenceStructured, m.Confidence)
	assert.Equal(t, data, m.Raw)
	assert.True(t, m.HasExamDates())
	assert.Equal(t, "MATH-221: Linear Algebra", m.Title())
}

func TestFromMapEmpty(t *testing.T) {
	assert.Nil(t, FromMap(nil, SourceStructured))
	assert.Nil(t, FromMap(map[string]any{}, SourceStructured))
}

func TestFromMapNestedMetadata(t *testing.T) {
	m := FromMap(map[string]any{
		"metadata": map[string]any{"title": "Organic Chemistry", "topics": "alkanes, alkenes"},
	}, SourceProcessedEndpoint)
	require.NotNil(t, m)
	assert.Equal(t, "Organic Chemistry", m.CourseTitle)
	assert.Equal(t, []string{"alkanes", "alkenes"}, m.Topics)
}

func TestFromMapConfidence(t *testing.T) {
	m := FromMap(map[string]any{"title": "X", "confidence": 0.7}, SourceStructured)
	assert.Equal(t, 0.7, m.Confidence)

	m = FromMap(map[string]any{"title": "X", "confidence": 0.9}, SourceRawFallback)
	assert.Equal(t, ConfidenceFallback, m.Confidence, "fallback is capped")

	m = FromMap(map[string]any{"title": "X", "confidence": 7.0}, SourceStructured)
	assert.Equal(t, ConfidenceStructured, m.Confidence, "out of range ignored")
}

func TestEmpty(t *testing.T) {
	var m *Metadata
	assert.True(t, m.Empty())
	assert.True(t, (&Metadata{Source: SourceStructured}).Empty())
	assert.False(t, (&Metadata{Topics: []string{"a"}}).Empty())
}

func TestFromRaw(t *testing.T) {
	text := `---
instructor: Prof. Hopper
---
# Compilers

Term: Fall 2025

## Lexing
## Parsing

Midterm exam on 2025-10-20 in room 4.
Final exam Dec 15, 2025.
`
	m := FromRaw(map[string]any{"course_code": "CS-420"}, text)
	require.NotNil(t, m)
	assert.Equal(t, SourceRawFallback, m.Source)
	assert.True(t, m.IsFallback())
	assert.Equal(t, ConfidenceFallback, m.Confidence)
	assert.Equal(t, "Compilers", m.CourseTitle)
	assert.Equal(t, "CS-420", m.CourseCode)
	assert.Equal(t, "Prof. Hopper", m.Instructor)
	assert.Equal(t, "Fall 2025", m.Term)
	assert.Equal(t, []string{"Lexing", "Parsing"}, m.Topics)
	require.Len(t, m.Exams, 2)
	assert.Equal(t, DatedItem{Title: "Midterm", Date: "2025-10-20", Kind: "exam"}, m.Exams[0])
	assert.Equal(t, "2025-12-15", m.Exams[1].Date)
}

func TestFromRawMetadataWins(t *testing.T) {
	m := FromRaw(map[string]any{"title": "From metadata"}, "# From text\n")
	require.NotNil(t, m)
	assert.Equal(t, "From metadata", m.CourseTitle)
}

func TestFromRawNothing(t *testing.T) {
	assert.Nil(t, FromRaw(nil, "   "))

	m := FromRaw(nil, "just some words")
	require.NotNil(t, m)
	assert.True(t, m.Empty())
	assert.True(t, m.IsFallback())
}

func TestFromRawBadFrontmatter(t *testing.T) {
	m := FromRaw(nil, "---\n: : :\n---\n# Title\n")
	require.NotNil(t, m)
	assert.Equal(t, SourceRawFallback, m.Source)
}

func TestMockIsDeterministic(t *testing.T) {
	a := Mock("exam.pdf")
	b := Mock("exam.pdf")
	assert.Equal(t, a, b)
	assert.Equal(t, "Exam", a.CourseTitle)
	assert.Equal(t, SourceMock, a.Source)
	assert.False(t, a.Empty())
	assert.True(t, a.HasExamDates())

	assert.Equal(t, "Intro To Biology", Mock("intro_to-biology.pdf").CourseTitle)
}

func TestNormalizeDate(t *testing.T) {
	tests := map[string]string{
		"2026-01-05":           "2026-01-05",
		"January 5, 2026":      "2026-01-05",
		"Jan 5, 2026":          "2026-01-05",
		"01/05/2026":           "2026-01-05",
		" week 7 ":             "week 7",
		"2026-01-05T10:00:00Z": "2026-01-05",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDate(in), in)
	}
}
