package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/missionkit/pkg/kernel/trace"
)

var traceVerifyCmd = &cobra.Command{
	Use:   "verify [trace.jsonl]",
	Short: "Verify trace file integrity (hash chain + signature)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceVerify,
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	result, err := trace.VerifyFile(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !result.Valid {
		fmt.Fprintf(out, "✗ Chain broken at event %d\n", result.BrokenAt)
		if result.Error != "" {
			fmt.Fprintf(out, "  %s\n", result.Error)
		}
		return fmt.Errorf("chain verification failed")
	}

	fmt.Fprintf(out, "✓ Chain integrity: %d events, no breaks\n", result.EventCount)
	if len(result.Runs) > 1 {
		fmt.Fprintf(out, "  %d runs: %s\n", len(result.Runs), strings.Join(result.Runs, ", "))
	}

	if result.ChainHash != "" {
		switch {
		case result.SignatureOK:
			fmt.Fprintln(out, "✓ Signature valid")
		case result.SignatureNoKey:
			fmt.Fprintf(out, "⚠ Signature present but no %s set to verify\n", trace.SigningKeyEnv)
		}
	}
	return nil
}

func init() {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace file operations",
	}
	traceCmd.AddCommand(traceVerifyCmd)
	rootCmd.AddCommand(traceCmd)
}
