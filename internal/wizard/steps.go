package wizard

// StepID identifies a wizard step.
type StepID string

const (
	StepProjectName         StepID = "project_name"
	StepPurpose             StepID = "purpose"
	StepEducationLevel      StepID = "education_level"
	StepSyllabusUpload      StepID = "syllabus_upload"
	StepExtractionResults   StepID = "extraction_results"
	StepCourseContentUpload StepID = "course_content_upload"
	StepTestUpload          StepID = "test_upload"
	StepTimeline            StepID = "timeline"
	StepGoal                StepID = "goal"
	StepStudyFrequency      StepID = "study_frequency"
	StepCollaboration       StepID = "collaboration"
	StepReview              StepID = "review"
)

// Step describes one page of a wizard. Skip must be a pure function of the
// wizard data; it is evaluated on every navigation and never cached.
type Step struct {
	ID          StepID
	Title       string
	Description string
	// Fields lists the Data fields the step edits, checked by ValidateStep.
	Fields []string
	Skip   func(Data) bool
}

// Hidden reports whether the step is skipped for d.
func (s Step) Hidden(d Data) bool {
	return s.Skip != nil && s.Skip(d)
}

func notSchool(d Data) bool { return !d.IsSchool() }
func noExtraction(d Data) bool { return !d.HasExtraction() }

// examDatesKnown skips manual timeline entry when analysis already found
// exam dates.
func examDatesKnown(d Data) bool {
	return d.Extracted.HasExamDates()
}

// ProjectSetupSteps returns the project-setup flow in display order.
func ProjectSetupSteps() []Step {
	return []Step{
		{
			ID:          StepProjectName,
			Title:       "Name your project",
			Description: "Give the project a name you will recognise later.",
			Fields:      []string{"ProjectName"},
		},
		{
			ID:          StepPurpose,
			Title:       "What is this project for?",
			Description: "School courses unlock course material and test uploads.",
			Fields:      []string{"Purpose"},
		},
		{
			ID:     StepEducationLevel,
			Title:  "Education level",
			Fields: []string{"EducationLevel"},
		},
		{
			ID:          StepSyllabusUpload,
			Title:       "Upload your syllabus",
			Description: "We analyze the first file to pre-fill course details and dates.",
		},
		{
			ID:          StepExtractionResults,
			Title:       "Review extracted details",
			Description: "Check what we found in your syllabus.",
			Skip:        noExtraction,
		},
		{
			ID:    StepCourseContentUpload,
			Title: "Course materials",
			Skip:  notSchool,
		},
		{
			ID:    StepTestUpload,
			Title: "Past tests",
			Skip:  notSchool,
		},
		{
			ID:          StepTimeline,
			Title:       "Important dates",
			Description: "Add exams and deadlines.",
			Fields:      []string{"Timeline"},
			Skip:        examDatesKnown,
		},
		{
			ID:     StepGoal,
			Title:  "Your goal",
			Fields: []string{"Goal"},
		},
		{
			ID:     StepStudyFrequency,
			Title:  "How often do you want to study?",
			Fields: []string{"StudyFrequency"},
		},
		{
			ID:     StepCollaboration,
			Title:  "Study alone or with others?",
			Fields: []string{"Collaboration"},
		},
		{
			ID:    StepReview,
			Title: "Review and create",
		},
	}
}

// ValidateStep checks the fields a step edits.
func ValidateStep(s Step, d Data) error {
	return d.ValidateFields(s.Fields...)
}
