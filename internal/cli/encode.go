package cli

import (
	"github.com/spf13/cobra"

	"github.com/kimyj950113/video-encoder/internal/job"
)

var encodeDryRun bool

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Run the whole pipeline in one process",
	Long: `Encode combines produce and upload: it scans Dropbox, downloads and
encodes deliverables sequentially, and uploads finished files to Drive
through a pool of concurrent workers. Files whose raw and encoded copies are
both already on Drive are skipped, so interrupted runs resume cleanly.`,
	RunE: runEncode,
}

func init() {
	rootCmd.AddCommand(encodeCmd)
	encodeCmd.Flags().BoolVar(&encodeDryRun, "dry-run", false, "log the plan without transferring anything")
}

func runEncode(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	env, err := newEnv(ctx, needs{dropbox: true, drive: true, encoder: true})
	if err != nil {
		return err
	}
	_, err = job.Encode(ctx, env, job.EncodeOptions{DryRun: encodeDryRun})
	return err
}
