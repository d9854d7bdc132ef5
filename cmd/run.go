package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/runner"
)

// newRunCmd executes one scheduler pass and prints the run record.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every stage once",
		Long: `run executes fetch, store and each enabled enrichment stage once.
A failed stage is reported in the summary without failing the command. The
command exits non-zero only when the run could not proceed, for example
when no API keys are configured or the run was interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			defer closeApp(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := a.Config()
			r := runner.New(a.Scheduler(), a.Runs(), runner.Config{RunTimeout: runTimeout(cfg.Runner.RunTimeoutMinutes)}, a.Logger().Named("runner"))
			rec, err := r.RunNow(ctx, "cli")
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rec); err != nil {
				a.Logger().Warn("print run record failed", zap.Error(err))
			}
			if rec.Status == runner.StatusFailed {
				return fmt.Errorf("run %s failed: %s", rec.ID, rec.Error)
			}
			return nil
		},
	}
	addStageFlags(cmd)
	return cmd
}

func addStageFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Bool("skip-fetch", false, "skip the fetch stage")
	flags.Bool("skip-store", false, "skip the store stage")
	flags.Bool("skip-label", false, "skip category labeling")
	flags.Bool("skip-embed", false, "skip embeddings")
	flags.Bool("skip-analyze", false, "skip keyword and sentiment analysis")
	flags.Bool("images", false, "backfill missing image URLs")
}
