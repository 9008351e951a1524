package cli

import (
	"github.com/spf13/cobra"

	"github.com/kimyj950113/video-encoder/internal/job"
)

var uploadOnce bool

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Drain the local buckets into Drive",
	Long: `Upload watches the raw and encoded buckets and mirrors completed files
into Drive, keeping the bucket-relative folder structure. Each local file is
deleted once its remote copy is confirmed. By default it polls forever so it
can run alongside "produce"; use --once for a single pass.`,
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().BoolVar(&uploadOnce, "once", false, "scan the buckets a single time instead of polling")
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	env, err := newEnv(ctx, needs{drive: true})
	if err != nil {
		return err
	}
	_, err = job.Upload(ctx, env, job.UploadOptions{Once: uploadOnce})
	return err
}
