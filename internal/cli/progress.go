package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/jacobsvennevik/marepo/internal/pipeline"
)

const refreshInterval = 100 * time.Millisecond

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers a session refresh.
type tickMsg time.Time

// progressModel is the bubbletea model for one analysis run.
type progressModel struct {
	orch     *pipeline.Orchestrator
	run      *pipeline.Run
	cancel   context.CancelFunc
	session  pipeline.Session
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
}

func newProgressModel(o *pipeline.Orchestrator, run *pipeline.Run, cancel context.CancelFunc) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		orch:     o,
		run:      run,
		cancel:   cancel,
		session:  o.Snapshot(),
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start refreshing).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		}

	case tickMsg:
		m.session = m.orch.Snapshot()
		select {
		case <-m.run.Done():
			m.done = true
			return m, tea.Quit
		default:
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	s := m.session
	primary, _ := s.Primary()
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", s.Status))
	hint := m.theme.hintStyle().Render("Press q to cancel")

	if s.Status == pipeline.StatusAnalyzing {
		detail := "processing"
		if j := s.Job; j != nil && j.MaxAttempts > 0 {
			detail = fmt.Sprintf("check %d/%d", j.Attempt, j.MaxAttempts)
		}
		return fmt.Sprintf("%s %s %s\n%s\n", status, primary.Name, detail, hint)
	}

	pct := float64(s.Progress[primary.Name]) / 100
	return fmt.Sprintf("%s %s %s\n%s\n", status, m.progress.ViewAs(pct), primary.Name, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render("\nAnalysis cancelled.\n")
	}
	return renderOutcome(m.theme, m.session)
}

// renderOutcome formats the final state of a session.
func renderOutcome(t Theme, s pipeline.Session) string {
	primary, _ := s.Primary()
	switch s.Status {
	case pipeline.StatusFailed:
		msg := "analysis failed"
		if s.Err != nil {
			msg = s.Err.UserMessage()
		}
		return t.errorStyle().Render(fmt.Sprintf("✗ %s: %s", primary.Name, msg)) + "\n"
	case pipeline.StatusSucceeded:
		label := "✓ Analyzed " + primary.Name
		if s.Mock {
			label += " (mock)"
		}
		out := t.completedStyle().Render(label) + "\n"
		if title := s.Extracted.Title(); title != "" {
			out += fmt.Sprintf("  %s\n", title)
		}
		if s.Extracted.IsFallback() {
			out += t.hintStyle().Render("  Low confidence: details were guessed from the raw document.") + "\n"
		}
		return out
	default:
		return ""
	}
}

// tickCmd returns a command that sends a tick after the refresh interval.
func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// watchAnalysis starts an analysis on o and follows it to the end, with an
// interactive progress bar or with log lines.
func watchAnalysis(ctx context.Context, o *pipeline.Orchestrator, interactive bool) (pipeline.Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, unsubscribe := o.Subscribe()
	defer unsubscribe()

	run, err := o.StartAnalysis(ctx)
	if err != nil {
		return o.Snapshot(), err
	}

	if interactive {
		p := tea.NewProgram(newProgressModel(o, run, cancel))
		if _, err := p.Run(); err != nil {
			cancel()
			logger.Warn("progress UI error", "error", err)
		}
	} else {
		followPlain(updates, run, logger)
	}

	// The run always ends once its context is cancelled.
	return run.Wait(context.Background())
}

// followPlain logs status changes and upload progress in quarter steps.
func followPlain(updates <-chan pipeline.Session, run *pipeline.Run, log *slog.Logger) {
	var (
		lastStatus pipeline.Status
		lastStep   = -1
	)
	for {
		select {
		case <-run.Done():
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			primary, _ := s.Primary()
			if s.Status != lastStatus {
				lastStatus = s.Status
				log.Info("analysis status", "status", s.Status, "file", primary.Name, "mock", s.Mock)
			}
			if step := s.Progress[primary.Name] / 25; s.Status == pipeline.StatusUploading && step > lastStep {
				lastStep = step
				log.Info("uploading", "file", primary.Name, "percent", step*25)
			}
		}
	}
}
