package cli

import (
	"github.com/spf13/cobra"

	"github.com/kimyj950113/video-encoder/internal/job"
)

var produceDryRun bool

var produceCmd = &cobra.Command{
	Use:   "produce",
	Short: "Stage deliverables locally: download from Dropbox and encode",
	Long: `Produce scans the Dropbox root for deliverable videos, downloads each
into the raw bucket and places an encoded (or copied) variant in the encoded
bucket. Nothing is uploaded; run "upload" alongside or afterwards to drain
the buckets into Drive.`,
	RunE: runProduce,
}

func init() {
	rootCmd.AddCommand(produceCmd)
	produceCmd.Flags().BoolVar(&produceDryRun, "dry-run", false, "log the plan without downloading or encoding")
}

func runProduce(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	env, err := newEnv(ctx, needs{dropbox: true, drive: true, encoder: true})
	if err != nil {
		return err
	}
	_, err = job.Produce(ctx, env, job.ProduceOptions{DryRun: produceDryRun})
	return err
}
