package main

import (
	"fmt"
	"os"

	"github.com/scanforge/yaracore/pkg/rulefixture"
	"github.com/spf13/cobra"
)

var inspectRulesPath string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print a ruleset's table sizes and list its rules",
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectRulesPath, "rules", "", "Path to a YAML rule fixture (required)")
	inspectCmd.MarkFlagRequired("rules")
}

func runInspect(cmd *cobra.Command, args []string) error {
	rf, err := os.Open(inspectRulesPath)
	if err != nil {
		return fmt.Errorf("opening rules: %w", err)
	}
	defer rf.Close()

	rs, err := rulefixture.Load(rf)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "namespaces: %d, rules: %d, strings: %d, externals: %d\n\n",
		len(rs.Namespaces()), len(rs.Rules()), len(rs.Strings()), len(rs.Externals()))

	for _, rule := range rs.Rules() {
		tag := ""
		if rule.Flags.Private() {
			tag += " private"
		}
		if rule.Flags.Global() {
			tag += " global"
		}
		fmt.Fprintf(out, "%s [%s]%s (%d strings)\n", rule.ID, rule.Namespace.Name, tag, len(rule.StringIDs))
	}

	return nil
}
