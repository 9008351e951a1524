package cli

import (
	"github.com/spf13/cobra"

	"github.com/kimyj950113/video-encoder/internal/job"
)

var auditFlags struct {
	maxMiB     int
	scanMinMiB float64
	scanMaxMiB float64
	fix        bool
	cleanup    bool
	limitFix   int
	reportAll  bool
	report     string
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Find and optionally re-encode oversize encoded files on Drive",
	Long: `Audit scans every "encoded" folder under the Drive root for files above
the size cap and writes a CSV report. With --fix the files inside the scan
window are downloaded, re-encoded under the cap and overwritten in place, so
their Drive file IDs (and sharing links) survive.`,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	f := auditCmd.Flags()
	f.IntVar(&auditFlags.maxMiB, "max-mib", 500, "size cap for encoded deliverables in MiB")
	f.Float64Var(&auditFlags.scanMinMiB, "scan-min-mib", 0, "lower bound of the fix window (default: the cap)")
	f.Float64Var(&auditFlags.scanMaxMiB, "scan-max-mib", 0, "upper bound of the fix window (default: cap+50)")
	f.BoolVar(&auditFlags.fix, "fix", false, "re-encode oversize files in the window and overwrite them in place")
	f.BoolVar(&auditFlags.cleanup, "cleanup", false, "remove local fix artifacts after a successful update")
	f.IntVar(&auditFlags.limitFix, "limit-fix", 0, "cap how many files one run fixes (0 = unlimited)")
	f.BoolVar(&auditFlags.reportAll, "report-all", false, "write every scanned file to the CSV, not only oversize ones")
	f.StringVar(&auditFlags.report, "report", "", "CSV report path (default encoded_audit_<timestamp>.csv)")
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	env, err := newEnv(ctx, needs{drive: true, encoder: auditFlags.fix})
	if err != nil {
		return err
	}
	_, err = job.Audit(ctx, env, job.AuditOptions{
		MaxMiB:     auditFlags.maxMiB,
		ScanMinMiB: auditFlags.scanMinMiB,
		ScanMaxMiB: auditFlags.scanMaxMiB,
		Fix:        auditFlags.fix,
		Cleanup:    auditFlags.cleanup,
		LimitFix:   auditFlags.limitFix,
		ReportAll:  auditFlags.reportAll,
		ReportPath: auditFlags.report,
	})
	return err
}
