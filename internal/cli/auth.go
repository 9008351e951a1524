package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kimyj950113/video-encoder/internal/config"
	"github.com/kimyj950113/video-encoder/internal/drive"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Run the Google Drive OAuth console flow",
	Long: `Auth obtains a Drive user token interactively and caches it at the
configured token path. Run it once per machine; every other command reuses
the cached token and refreshes it automatically.`,
	RunE: runAuth,
}

func init() {
	rootCmd.AddCommand(authCmd)
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	return drive.Authorize(ctx, cfg.DriveCredentialsPath, cfg.DriveTokenPath, os.Stdin, os.Stdout)
}
