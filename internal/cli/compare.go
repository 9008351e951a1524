package cli

import (
	"github.com/spf13/cobra"

	"github.com/kimyj950113/video-encoder/internal/job"
)

var compareFlags struct {
	include         string
	exclude         string
	skipClosed      bool
	skipExts        []string
	allowRootDelete bool
	fileReport      string
	folderReport    string
	deletableList   string
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Audit the migration and list deletable Dropbox folders",
	Long: `Compare verifies that every Dropbox file under the root has an identical
copy (same relative path, name and byte size) on Drive. It writes a per-file
and a per-folder CSV report, plus the highest Dropbox folders whose whole
subtree verified OK and can be deleted in one operation.`,
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)
	f := compareCmd.Flags()
	f.StringVar(&compareFlags.include, "include", "", "only paths containing this substring")
	f.StringVar(&compareFlags.exclude, "exclude", "", "skip paths containing this substring")
	f.BoolVar(&compareFlags.skipClosed, "skip-closed", false, "skip discontinued-lecture paths")
	f.StringSliceVar(&compareFlags.skipExts, "skip-ext", nil, "skip files with these extensions")
	f.BoolVar(&compareFlags.allowRootDelete, "allow-root-delete", false, "let the Dropbox root itself become a delete candidate")
	f.StringVar(&compareFlags.fileReport, "file-report", "", "per-file CSV path (default file_migration_audit.csv)")
	f.StringVar(&compareFlags.folderReport, "folder-report", "", "per-folder CSV path (default folder_migration_audit.csv)")
	f.StringVar(&compareFlags.deletableList, "deletable-list", "", "deletable folder list path (default dropbox_deletable_folders.txt)")
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	env, err := newEnv(ctx, needs{dropbox: true, drive: true})
	if err != nil {
		return err
	}
	_, err = job.Compare(ctx, env, job.CompareOptions{
		Include:          compareFlags.include,
		Exclude:          compareFlags.exclude,
		SkipClosed:       compareFlags.skipClosed,
		SkipExts:         compareFlags.skipExts,
		AllowRootDelete:  compareFlags.allowRootDelete,
		FileReportPath:   compareFlags.fileReport,
		FolderReportPath: compareFlags.folderReport,
		DeletablePath:    compareFlags.deletableList,
	})
	return err
}
