package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/jacobsvennevik/marepo/internal/extract"
	"github.com/jacobsvennevik/marepo/internal/pipeline"
	"github.com/jacobsvennevik/marepo/internal/upload"
)

var (
	analyzeConcurrency int
	analyzeJSON        bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>...",
	Short: "Upload documents and print what the analysis extracted",
	Long: `Upload one or more documents and print the extracted course details.

Each file is analyzed in its own session. Unsupported or oversized files are
rejected before anything is uploaded.

Examples:
  marepo analyze syllabus.pdf
  marepo analyze --mock exam.pdf
  marepo analyze --json -c 2 week1.pdf week2.pdf week3.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().IntVarP(&analyzeConcurrency, "concurrency", "c", 4, "files analyzed in parallel")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print results as JSON instead of YAML")
}

// analysisResult is the printed outcome of one file.
type analysisResult struct {
	File       string            `json:"file" yaml:"file"`
	Status     pipeline.Status   `json:"status" yaml:"status"`
	DocumentID string            `json:"document_id,omitempty" yaml:"document_id,omitempty"`
	Mock       bool              `json:"mock,omitempty" yaml:"mock,omitempty"`
	Error      string            `json:"error,omitempty" yaml:"error,omitempty"`
	Kind       pipeline.Kind     `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Metadata   *extract.Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	interactive := len(args) == 1 && !analyzeJSON && isTerminal(cmd.OutOrStdout())

	results, err := analyzeAll(args, analyzeConcurrency, func(path string) analysisResult {
		return analyzeFile(cmd, path, interactive)
	})
	if err != nil {
		return err
	}

	if err := printResults(cmd.OutOrStdout(), results, analyzeJSON); err != nil {
		return err
	}

	var errs []error
	for _, r := range results {
		if r.Error != "" {
			errs = append(errs, fmt.Errorf("%s: %s", r.File, r.Error))
		}
	}
	if ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}

// analyzeAll runs analyze over paths with at most limit running at once.
// Results keep the order of paths; per-file failures are part of each result.
func analyzeAll(paths []string, limit int, analyze func(path string) analysisResult) ([]analysisResult, error) {
	results := make([]analysisResult, len(paths))
	var g errgroup.Group
	g.SetLimit(max(limit, 1))
	for i, path := range paths {
		g.Go(func() error {
			results[i] = analyze(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func analyzeFile(cmd *cobra.Command, path string, interactive bool) analysisResult {
	f, err := upload.Stat(path)
	if err != nil {
		return analysisResult{File: path, Status: pipeline.StatusFailed, Error: err.Error()}
	}
	res := analysisResult{File: f.Name}

	o := newOrchestrator()
	defer o.Close()
	if err := o.AddFiles(f); err != nil {
		res.Status = pipeline.StatusFailed
		res.Kind = pipeline.KindOf(err)
		res.Error = userMessage(err)
		return res
	}

	sess, err := watchAnalysis(cmd.Context(), o, interactive)
	res.Status = sess.Status
	res.DocumentID = sess.DocumentID
	res.Mock = sess.Mock
	res.Metadata = sess.Extracted
	if err != nil {
		res.Status = pipeline.StatusFailed
		res.Kind = pipeline.KindOf(err)
		res.Error = userMessage(err)
	}
	return res
}

// userMessage prefers the message written for people over the error chain.
func userMessage(err error) string {
	var pe *pipeline.Error
	if errors.As(err, &pe) {
		return pe.UserMessage()
	}
	return err.Error()
}

func printResults(w io.Writer, results []analysisResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	for _, r := range results {
		r.Metadata = withoutRaw(r.Metadata)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}
	return nil
}

// withoutRaw drops the raw payload, which is noise on a terminal.
func withoutRaw(md *extract.Metadata) *extract.Metadata {
	if md == nil {
		return nil
	}
	c := *md
	c.Raw = nil
	return &c
}
