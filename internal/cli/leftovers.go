package cli

import (
	"github.com/spf13/cobra"

	"github.com/kimyj950113/video-encoder/internal/job"
)

var leftoversFlags struct {
	bucket     string
	dryRun     bool
	include    string
	exclude    string
	skipClosed bool
	skipExts   []string
	limit      int
	checkDrive bool
	failClosed bool
	redownload bool
}

var leftoversCmd = &cobra.Command{
	Use:   "leftovers",
	Short: "Download Dropbox files not yet safely on Drive",
	Long: `Leftovers sweeps up stragglers from earlier migration passes: every
Dropbox file under the root that has no verified Drive copy is downloaded
into a local bucket. With --check-drive a file only counts as migrated when
Drive holds a same-named file with the exact byte size at the same relative
path.`,
	RunE: runLeftovers,
}

func init() {
	rootCmd.AddCommand(leftoversCmd)
	f := leftoversCmd.Flags()
	f.StringVar(&leftoversFlags.bucket, "bucket", "raw", "workdir bucket downloads land in")
	f.BoolVar(&leftoversFlags.dryRun, "dry-run", false, "log the plan without downloading")
	f.StringVar(&leftoversFlags.include, "include", "", "only paths containing this substring")
	f.StringVar(&leftoversFlags.exclude, "exclude", "", "skip paths containing this substring")
	f.BoolVar(&leftoversFlags.skipClosed, "skip-closed", true, "skip discontinued-lecture paths")
	f.StringSliceVar(&leftoversFlags.skipExts, "skip-ext", nil, "skip files with these extensions (e.g. .srt)")
	f.IntVar(&leftoversFlags.limit, "limit", 0, "stop after this many downloads (0 = unlimited)")
	f.BoolVar(&leftoversFlags.checkDrive, "check-drive", true, "skip files whose Drive copy matches by path, name and size")
	f.BoolVar(&leftoversFlags.failClosed, "fail-closed", false, "abort on Drive lookup errors instead of downloading anyway")
	f.BoolVar(&leftoversFlags.redownload, "redownload-mismatch", false, "replace local copies whose size differs from Dropbox")
}

func runLeftovers(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	env, err := newEnv(ctx, needs{dropbox: true, drive: leftoversFlags.checkDrive})
	if err != nil {
		return err
	}
	_, err = job.Leftovers(ctx, env, job.LeftoversOptions{
		Bucket:                   leftoversFlags.bucket,
		DryRun:                   leftoversFlags.dryRun,
		Include:                  leftoversFlags.include,
		Exclude:                  leftoversFlags.exclude,
		SkipClosed:               leftoversFlags.skipClosed,
		SkipExts:                 leftoversFlags.skipExts,
		Limit:                    leftoversFlags.limit,
		CheckDrive:               leftoversFlags.checkDrive,
		FailClosed:               leftoversFlags.failClosed,
		RedownloadIfSizeMismatch: leftoversFlags.redownload,
	})
	return err
}
