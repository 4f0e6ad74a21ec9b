package wizard

import (
	"slices"

	"github.com/jacobsvennevik/marepo/internal/extract"
	"github.com/jacobsvennevik/marepo/internal/upload"
)

// Purpose is why a project is created.
type Purpose string

const (
	PurposeSchool    Purpose = "school"
	PurposeSelfStudy Purpose = "self_study"
	PurposeWork      Purpose = "work"
)

// Data is everything the project-setup wizard collects.
type Data struct {
	ProjectName    string  `json:"project_name" yaml:"project_name" validate:"notblank,max=120"`
	Purpose        Purpose `json:"purpose" yaml:"purpose" validate:"required,oneof=school self_study work"`
	EducationLevel string  `json:"education_level,omitempty" yaml:"education_level,omitempty" validate:"omitempty,oneof=high_school undergraduate graduate professional other"`

	SyllabusFiles []upload.FileRef `json:"syllabus_files,omitempty" yaml:"syllabus_files,omitempty"`
	DocumentID    string           `json:"document_id,omitempty" yaml:"document_id,omitempty"`
	// Extracted is set only once an analysis succeeded with usable data.
	Extracted *extract.Metadata `json:"extracted,omitempty" yaml:"extracted,omitempty"`

	CourseContentFiles []upload.FileRef `json:"course_content_files,omitempty" yaml:"course_content_files,omitempty"`
	TestFiles          []upload.FileRef `json:"test_files,omitempty" yaml:"test_files,omitempty"`

	Timeline       []extract.DatedItem `json:"timeline,omitempty" yaml:"timeline,omitempty" validate:"dive"`
	Goal           string              `json:"goal,omitempty" yaml:"goal,omitempty" validate:"omitempty,max=500"`
	StudyFrequency string              `json:"study_frequency,omitempty" yaml:"study_frequency,omitempty" validate:"omitempty,oneof=daily weekly biweekly monthly"`
	Collaboration  string              `json:"collaboration,omitempty" yaml:"collaboration,omitempty" validate:"omitempty,oneof=solo group"`
}

// IsSchool reports whether the project belongs to a school course.
func (d Data) IsSchool() bool {
	return d.Purpose == PurposeSchool
}

// HasExtraction reports whether analysis produced usable metadata.
func (d Data) HasExtraction() bool {
	return !d.Extracted.Empty()
}

// Dates returns the project's milestones: extracted exams and assignments
// followed by the ones entered by hand.
func (d Data) Dates() []extract.DatedItem {
	var out []extract.DatedItem
	if d.Extracted != nil {
		out = append(out, d.Extracted.Exams...)
		out = append(out, d.Extracted.Assignments...)
	}
	return append(out, d.Timeline...)
}

// Clone returns a copy that shares no slices with d. Extracted is shared;
// it is never mutated after an analysis produced it.
func (d Data) Clone() Data {
	c := d
	c.SyllabusFiles = slices.Clone(d.SyllabusFiles)
	c.CourseContentFiles = slices.Clone(d.CourseContentFiles)
	c.TestFiles = slices.Clone(d.TestFiles)
	c.Timeline = slices.Clone(d.Timeline)
	return c
}
