package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacobsvennevik/marepo/internal/extract"
	"github.com/jacobsvennevik/marepo/internal/service"
	"github.com/jacobsvennevik/marepo/internal/upload"
	"github.com/jacobsvennevik/marepo/internal/wizard"
)

var (
	projName          string
	projPurpose       string
	projEducation     string
	projSyllabus      string
	projCourseContent []string
	projTests         []string
	projDates         []string
	projGoal          string
	projFrequency     string
	projCollaboration string
	projResume        bool
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage study projects",
}

var projectNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Set up a study project",
	Long: `Walk through the project setup wizard using flags for the answers.

If a syllabus is given it is analyzed first; course details and exam dates
found in it are used for the project and the manual date entry is skipped.
Progress is saved after every step, so a run that stops on a missing answer
can be continued with --resume.

Examples:
  marepo project new --name "Compilers" --purpose school --syllabus syllabus.pdf
  marepo project new --name "Spanish" --purpose self_study --date "Trip=2026-06-01" --frequency daily
  marepo project new --resume --goal "Pass the final"`,
	Args: cobra.NoArgs,
	RunE: runProjectNew,
}

func init() {
	f := projectNewCmd.Flags()
	f.StringVar(&projName, "name", "", "project name")
	f.StringVar(&projPurpose, "purpose", "", "school, self_study or work")
	f.StringVar(&projEducation, "education-level", "", "high_school, undergraduate, graduate, professional or other")
	f.StringVar(&projSyllabus, "syllabus", "", "syllabus to analyze")
	f.StringSliceVar(&projCourseContent, "course-content", nil, "course material files (school projects)")
	f.StringSliceVar(&projTests, "tests", nil, "past test files (school projects)")
	f.StringArrayVar(&projDates, "date", nil, `important date as "Title=YYYY-MM-DD" (repeatable)`)
	f.StringVar(&projGoal, "goal", "", "what you want to achieve")
	f.StringVar(&projFrequency, "frequency", "", "daily, weekly, biweekly or monthly")
	f.StringVar(&projCollaboration, "collaboration", "", "solo or group")
	f.BoolVar(&projResume, "resume", false, "continue the last unfinished setup")

	projectCmd.AddCommand(projectNewCmd)
}

// stepFlags names the flags answering each step, for error hints.
var stepFlags = map[wizard.StepID]string{
	wizard.StepProjectName:    "--name",
	wizard.StepPurpose:        "--purpose",
	wizard.StepEducationLevel: "--education-level",
	wizard.StepTimeline:       "--date",
	wizard.StepGoal:           "--goal",
	wizard.StepStudyFrequency: "--frequency",
	wizard.StepCollaboration:  "--collaboration",
}

func runProjectNew(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store := wizard.NewStore(cfg.StateFile, cfg.StateTTL)

	var resume *wizard.Snapshot
	if projResume {
		snap, err := store.Load()
		switch {
		case errors.Is(err, wizard.ErrNoSnapshot), errors.Is(err, wizard.ErrExpired):
			logger.Warn("nothing to resume, starting a new setup", "reason", err)
		case err != nil:
			return fmt.Errorf("load saved setup: %w", err)
		default:
			resume = &snap
		}
	} else if err := store.Clear(); err != nil {
		return err
	}

	setup := service.NewSetup(service.SetupOptions{
		Orchestrator: newOrchestrator(),
		Projects:     apiClient,
		Mode:         selector,
		Store:        store,
		Resume:       resume,
		Logger:       logger,
		Metrics:      collector,
	})
	defer func() {
		if err := setup.Close(); err != nil {
			logger.Warn("failed to save setup progress", "error", err)
		}
	}()

	if err := applyFlags(cmd, setup.Wizard()); err != nil {
		return err
	}

	seq := setup.Wizard()
	for {
		step := seq.Current()
		if step.ID == wizard.StepSyllabusUpload && projSyllabus != "" && seq.Data().DocumentID == "" {
			analyzeSyllabus(cmd, setup)
		}
		if err := wizard.ValidateStep(step, seq.Data()); err != nil {
			return stepError(step, err)
		}
		n, total := seq.Position()
		logger.Debug("step done", "step", step.ID, "position", n, "of", total, "progress", seq.Progress())
		if seq.Next() {
			break
		}
	}

	p, err := setup.Finalize(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created project %q (%s)\n", p.Name, p.ID)
	return nil
}

// analyzeSyllabus runs the analysis. A failed analysis is reported and the
// wizard continues without extracted details.
func analyzeSyllabus(cmd *cobra.Command, setup *service.Setup) {
	f, err := upload.Stat(projSyllabus)
	if err == nil {
		err = setup.AddSyllabus(f)
	}
	var md *extract.Metadata
	if err == nil {
		md, err = setup.Analyze(cmd.Context())
	}
	out := cmd.OutOrStdout()
	if err != nil {
		fmt.Fprintf(out, "Syllabus analysis failed: %s\nContinuing without extracted details.\n", userMessage(err))
		return
	}
	fmt.Fprint(out, renderOutcome(defaultTheme, setup.Session()))
	if md.IsFallback() {
		logger.Warn("syllabus details are low confidence", "confidence", md.Confidence)
	}
}

func stepError(step wizard.Step, err error) error {
	hint := ""
	if flag, ok := stepFlags[step.ID]; ok {
		hint = fmt.Sprintf(" (set %s and rerun with --resume)", flag)
	}
	return fmt.Errorf("step %s: %w%s", step.ID, err, hint)
}

// applyFlags copies the answers given on the command line into the wizard.
// Flags not given keep the saved answers.
func applyFlags(cmd *cobra.Command, seq *wizard.Sequencer) error {
	changed := cmd.Flags().Changed
	policy := newPolicy()

	courseContent, err := stageFiles(policy, projCourseContent)
	if err != nil {
		return err
	}
	tests, err := stageFiles(policy, projTests)
	if err != nil {
		return err
	}
	dates, err := parseDates(projDates)
	if err != nil {
		return err
	}

	seq.Update(func(d *wizard.Data) {
		if changed("name") {
			d.ProjectName = projName
		}
		if changed("purpose") {
			d.Purpose = wizard.Purpose(projPurpose)
		}
		if changed("education-level") {
			d.EducationLevel = projEducation
		}
		if changed("course-content") {
			d.CourseContentFiles = courseContent
		}
		if changed("tests") {
			d.TestFiles = tests
		}
		if changed("date") {
			d.Timeline = dates
		}
		if changed("goal") {
			d.Goal = projGoal
		}
		if changed("frequency") {
			d.StudyFrequency = projFrequency
		}
		if changed("collaboration") {
			d.Collaboration = projCollaboration
		}
	})
	return nil
}

// stageFiles checks extra material against the upload policy.
func stageFiles(policy upload.Policy, paths []string) ([]upload.FileRef, error) {
	var out []upload.FileRef
	for _, p := range paths {
		f, err := upload.Stat(p)
		if err != nil {
			return nil, err
		}
		if d := policy.Admit(f); !d.Admitted {
			return nil, errors.New(policy.Describe(f, d.Reason))
		}
		out = append(out, f)
	}
	return out, nil
}

// parseDates reads "Title=YYYY-MM-DD" values.
func parseDates(values []string) ([]extract.DatedItem, error) {
	var out []extract.DatedItem
	for _, v := range values {
		title, date, ok := strings.Cut(v, "=")
		if !ok {
			return nil, fmt.Errorf("invalid date %q, expected Title=YYYY-MM-DD", v)
		}
		out = append(out, extract.DatedItem{
			Title: strings.TrimSpace(title),
			Date:  extract.NormalizeDate(strings.TrimSpace(date)),
			Kind:  "milestone",
		})
	}
	return out, nil
}
