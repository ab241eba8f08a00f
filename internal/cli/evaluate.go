package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"example.com/tachograph/internal/compliance"
	"example.com/tachograph/internal/ingest"
)

type evaluateOptions struct {
	format          outputFormat
	timezone        string
	failOnViolation bool
	showSkipped     bool
}

// evaluation is the document printed by evaluate.
type evaluation struct {
	Files          []string                    `json:"files" yaml:"files"`
	Shape          ingest.Shape                `json:"shape" yaml:"shape"`
	Identity       ingest.Identity             `json:"identity" yaml:"identity"`
	Timezone       string                      `json:"timezone" yaml:"timezone"`
	Segments       int                         `json:"segments" yaml:"segments"`
	Skipped        int                         `json:"skipped" yaml:"skipped"`
	SkippedRecords []string                    `json:"skipped_records,omitempty" yaml:"skipped_records,omitempty"`
	Unclassified   int                         `json:"unclassified" yaml:"unclassified"`
	Violations     int                         `json:"violations" yaml:"violations"`
	Compliant      bool                        `json:"compliant" yaml:"compliant"`
	Report         compliance.ComplianceReport `json:"report" yaml:"report"`
}

func newEvaluateCommand() *cobra.Command {
	opts := evaluateOptions{format: formatYAML, timezone: "UTC"}

	cmd := &cobra.Command{
		Use:   "evaluate FILE...",
		Short: "Evaluate one or more parser outputs as a single record",
		Long: `Evaluate reads each FILE (or standard input for "-"), merges the records
and prints the compliance report.

Day-keyed records are read in the --tz zone. With --fail-on-violation the
command exits with status 2 when any violation is found.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd, args, opts)
		},
	}

	flags := cmd.Flags()
	flags.VarP(&opts.format, "format", "f", "Output format (yaml|json)")
	flags.StringVar(&opts.timezone, "tz", opts.timezone, "IANA zone of local day records")
	flags.BoolVar(&opts.failOnViolation, "fail-on-violation", false, "Exit with status 2 when violations are found")
	flags.BoolVar(&opts.showSkipped, "show-skipped", false, "List records that could not be read")
	return cmd
}

func runEvaluate(cmd *cobra.Command, files []string, opts evaluateOptions) error {
	loc, err := time.LoadLocation(opts.timezone)
	if err != nil {
		return fmt.Errorf("--tz: %w", err)
	}

	records := make([]ingest.Record, 0, len(files))
	for _, name := range files {
		doc, err := readInput(cmd.InOrStdin(), name)
		if err != nil {
			return err
		}
		rec, err := ingest.Decode(doc)
		if err != nil && !errors.Is(err, ingest.ErrNoActivity) {
			return fmt.Errorf("%s: %w", name, err)
		}
		records = append(records, rec)
	}

	merged := ingest.Merge(records...)
	normalized := compliance.Normalize(merged.Source(loc))
	report := compliance.Evaluate(normalized.Segments)

	out := evaluation{
		Files:        files,
		Shape:        merged.Shape,
		Identity:     merged.Identity,
		Timezone:     loc.String(),
		Segments:     len(normalized.Segments),
		Skipped:      len(normalized.Skipped),
		Unclassified: normalized.Unclassified,
		Violations:   report.ViolationCount(),
		Compliant:    report.Compliant(),
		Report:       report,
	}
	if opts.showSkipped {
		for _, skipped := range normalized.Skipped {
			out.SkippedRecords = append(out.SkippedRecords, skipped.Error())
		}
	}

	if err := opts.format.write(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if opts.failOnViolation && !out.Compliant {
		return &ExitError{Code: ExitCodeViolations, Err: fmt.Errorf("%d violation(s) found", out.Violations)}
	}
	return nil
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}
