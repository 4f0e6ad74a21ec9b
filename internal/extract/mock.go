package extract

import (
	"path/filepath"
	"strings"
)

// Mock returns the deterministic mock-mode analysis of a file. The same name
// always yields the same metadata, shaped exactly like a live result.
func Mock(fileName string) *Metadata {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	title := "Introduction to Data Structures"
	if base != "" && base != "." {
		title = titleCase(strings.NewReplacer("_", " ", "-", " ").Replace(base))
	}

	return &Metadata{
		CourseTitle: title,
		CourseCode:  "CS-201",
		Instructor:  "Dr. Ada Byron",
		Term:        "Fall 2025",
		Description: "Mock analysis of " + fileName + ".",
		Topics: []string{
			"Arrays and Linked Lists",
			"Stacks and Queues",
			"Trees and Graphs",
			"Sorting Algorithms",
		},
		LearningOutcomes: []string{
			"Analyze algorithm complexity",
			"Implement core data structures",
		},
		Exams: []DatedItem{
			{Title: "Midterm Exam", Date: "2025-10-15", Kind: "exam"},
			{Title: "Final Exam", Date: "2025-12-12", Kind: "exam"},
		},
		Assignments: []DatedItem{
			{Title: "Problem Set 1", Date: "2025-09-19", Kind: "assignment"},
		},
		Source:     SourceMock,
		Confidence: ConfidenceStructured,
		Raw:        map[string]any{"mock": true, "file": fileName},
	}
}
