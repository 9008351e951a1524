package cli

import (
	"github.com/spf13/cobra"

	"github.com/kimyj950113/video-encoder/internal/job"
)

var fetchFlags struct {
	outDir       string
	skipExisting bool
	onlyMP4      bool
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Mirror the encoded Drive trees to local disk",
	Long: `Fetch downloads every "encoded" folder under the Drive root into a local
directory, preserving the folder structure. Google-native documents are
skipped; they have no binary content to download.`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	f := fetchCmd.Flags()
	f.StringVar(&fetchFlags.outDir, "out", "", "local destination (default: the workdir fetch bucket)")
	f.BoolVar(&fetchFlags.skipExisting, "skip-existing", true, "skip files already present locally with the same size")
	f.BoolVar(&fetchFlags.onlyMP4, "only-mp4", false, "restrict downloads to .mp4 files")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	env, err := newEnv(ctx, needs{drive: true})
	if err != nil {
		return err
	}
	_, err = job.Fetch(ctx, env, job.FetchOptions{
		OutDir:       fetchFlags.outDir,
		SkipExisting: fetchFlags.skipExisting,
		OnlyMP4:      fetchFlags.onlyMP4,
	})
	return err
}
