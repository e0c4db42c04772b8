package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/scanforge/yaracore/pkg/rulefixture"
	"github.com/scanforge/yaracore/pkg/scanner"
	"github.com/scanforge/yaracore/pkg/statsdb"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	scanRulesPath string
	scanFormat    string
	scanColor     string
	scanTimeout   time.Duration
	scanTolerant  bool
	scanStatsPath string
)

var scanCmd = &cobra.Command{
	Use:   "scan <target>",
	Short: "Scan a file against a compiled ruleset",
	Long:  "Scan a file against a ruleset loaded from a YAML rule fixture",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanRulesPath, "rules", "", "Path to a YAML rule fixture (required)")
	scanCmd.Flags().StringVar(&scanFormat, "format", "human", "Output format: human, json")
	scanCmd.Flags().StringVar(&scanColor, "color", "auto", "Color output: auto, always, never")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "Scan timeout (0 disables)")
	scanCmd.Flags().BoolVar(&scanTolerant, "tolerant", false, "Keep scanning blocks after a per-block error")
	scanCmd.Flags().StringVar(&scanStatsPath, "stats", "", "Optional sqlite database to record scan history in")
	scanCmd.MarkFlagRequired("rules")
}

func runScan(cmd *cobra.Command, args []string) error {
	target := args[0]

	rf, err := os.Open(scanRulesPath)
	if err != nil {
		return fmt.Errorf("opening rules: %w", err)
	}
	defer rf.Close()

	rs, err := rulefixture.Load(rf)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	opts := scanner.DefaultOptions()
	opts.Timeout = scanTimeout
	opts.Tolerant = scanTolerant

	o := scanner.New(rs, opts, scanner.NoopLogger{})

	result, err := o.ScanFile(target, nil)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", target, err)
	}

	if scanStatsPath != "" {
		db, err := statsdb.Open(scanStatsPath)
		if err != nil {
			return fmt.Errorf("opening stats database: %w", err)
		}
		defer db.Close()
		if _, err := db.RecordScan(target, result); err != nil {
			return fmt.Errorf("recording scan: %w", err)
		}
	}

	switch scanFormat {
	case "json":
		return outputScanJSON(cmd, result)
	case "human":
		return outputScanHuman(cmd, result)
	default:
		return fmt.Errorf("unknown output format: %s", scanFormat)
	}
}

func outputScanJSON(cmd *cobra.Command, result *scanner.ScanResult) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func outputScanHuman(cmd *cobra.Command, result *scanner.ScanResult) error {
	out := cmd.OutOrStdout()

	switch scanColor {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	default:
		if !term.IsTerminal(int(os.Stdout.Fd())) || os.Getenv("NO_COLOR") != "" {
			color.NoColor = true
		} else {
			color.NoColor = false
		}
	}

	ruleName := color.New(color.Bold, color.FgHiBlue)
	heading := color.New(color.Bold)
	matchStyle := color.New(color.FgYellow)

	if result.Aborted {
		fmt.Fprintln(out, heading.Sprint("scan aborted by callback"))
	}

	fmt.Fprintf(out, "%s %d/%d rules matched\n\n",
		heading.Sprint("Summary:"), result.Summary.MatchedRules, result.Summary.TotalRules)

	for _, r := range result.Results {
		if !r.Matched {
			continue
		}
		fmt.Fprintf(out, "%s (%s)\n", ruleName.Sprint(r.RuleID), r.Namespace)
		for _, sh := range r.Strings {
			fmt.Fprintf(out, "    %s at offsets %s\n", matchStyle.Sprint(sh.Name), formatOffsets(sh.Offsets))
		}
	}

	return nil
}

func formatOffsets(offsets []int64) string {
	s := ""
	for i, o := range offsets {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%d", o)
	}
	return s
}
