package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/upb/compliance-ledger/services/export"
)

// ErrArchiveInvalid is returned when an archive fails verification
var ErrArchiveInvalid = errors.New("archive failed verification")

func newVerifyArchiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-archive <archive.zip>",
		Short: "Check an exported archive against its manifest",
		Long:  "Recomputes the digest of every evidence file in an audit archive and compares\nit with manifest.json, then checks policies, index.json and unlisted entries.\nNo database or configuration is needed.",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerifyArchive,
	}
}

func runVerifyArchive(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}

	result, err := export.VerifyArchive(data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if result.ManifestDigest != "" {
		fmt.Fprintf(out, "manifest %s\n", result.ManifestDigest)
	}
	fmt.Fprintf(out, "evidence files: %d, policies: %d\n", result.EvidenceFiles, result.PolicyFiles)
	if result.OK() {
		fmt.Fprintln(out, "OK")
		return nil
	}
	for _, p := range result.Problems {
		fmt.Fprintf(out, "FAIL %s\n", p)
	}
	return fmt.Errorf("%s: %w (%d problems)", args[0], ErrArchiveInvalid, len(result.Problems))
}
