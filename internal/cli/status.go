package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacobsvennevik/marepo/internal/pipeline"
)

var statusMaxAttempts int

var statusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Process an uploaded document and wait for its result",
	Long: `Start processing of a document that was uploaded earlier and poll
until it completes, fails or the attempt budget runs out.

Examples:
  marepo status 3f2b8c1e-6a57-4d0e-9a43-0c1f1d2b7e55
  marepo status --attempts 30 3f2b8c1e-6a57-4d0e-9a43-0c1f1d2b7e55`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusMaxAttempts, "attempts", 0, "status checks before giving up (default from MAREPO_POLL_MAX_ATTEMPTS)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	poller := newPoller()
	if statusMaxAttempts > 0 {
		poller.MaxAttempts = statusMaxAttempts
	}

	job := pipeline.NewJob(args[0], args[0], 1, nil)
	md, err := poller.Run(cmd.Context(), job)

	st := job.Snapshot()
	res := analysisResult{
		File:       args[0],
		Status:     pipeline.StatusSucceeded,
		DocumentID: st.DocumentID,
		Mock:       selector.IsMock(cmd.Context()),
		Metadata:   md,
	}
	if err != nil {
		res.Status = pipeline.StatusFailed
		res.Kind = pipeline.KindOf(err)
		res.Error = userMessage(err)
	}
	logger.Debug("job finished", "job_id", st.ID, "status", st.Status, "attempts", st.Attempt)

	if perr := printResults(cmd.OutOrStdout(), []analysisResult{res}, false); perr != nil {
		return perr
	}
	if err != nil {
		return fmt.Errorf("document %s: %w", args[0], err)
	}
	return nil
}
