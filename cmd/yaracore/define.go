package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/scanforge/yaracore/pkg/rulefixture"
	"github.com/scanforge/yaracore/pkg/types"
	"github.com/spf13/cobra"
)

var (
	defineRulesPath string
	defineSets      []string
)

var defineCmd = &cobra.Command{
	Use:   "define --rules <file> [--set identifier=value]...",
	Short: "Override external variables and print the resolved table",
	Long:  "Load a ruleset, apply --set identifier=value overrides, and print every external variable's resolved value",
	RunE:  runDefine,
}

func init() {
	defineCmd.Flags().StringVar(&defineRulesPath, "rules", "", "Path to a YAML rule fixture (required)")
	defineCmd.Flags().StringArrayVar(&defineSets, "set", nil, "identifier=value override, may be repeated")
	defineCmd.MarkFlagRequired("rules")
}

func runDefine(cmd *cobra.Command, args []string) error {
	rf, err := os.Open(defineRulesPath)
	if err != nil {
		return fmt.Errorf("opening rules: %w", err)
	}
	defer rf.Close()

	rs, err := rulefixture.Load(rf)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	for _, set := range defineSets {
		identifier, value, ok := strings.Cut(set, "=")
		if !ok {
			return fmt.Errorf("invalid --set %q, expected identifier=value", set)
		}
		if err := applyOverride(rs, identifier, value); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for _, ext := range rs.Externals() {
		fmt.Fprintf(out, "%s = %s\n", ext.Identifier, formatExternal(ext))
	}
	return nil
}

func applyOverride(rs interface {
	DefineIntegerVariable(string, int64) error
	DefineBooleanVariable(string, bool) error
	DefineFloatVariable(string, float64) error
	DefineStringVariable(string, string) error
	Externals() []types.ExternalVariable
}, identifier, value string) error {
	for _, ext := range rs.Externals() {
		if ext.Identifier != identifier {
			continue
		}
		switch ext.Type {
		case types.ExternalInteger:
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("parsing %q as integer: %w", value, err)
			}
			return rs.DefineIntegerVariable(identifier, n)
		case types.ExternalBoolean:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("parsing %q as boolean: %w", value, err)
			}
			return rs.DefineBooleanVariable(identifier, b)
		case types.ExternalFloat:
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("parsing %q as float: %w", value, err)
			}
			return rs.DefineFloatVariable(identifier, f)
		case types.ExternalString:
			return rs.DefineStringVariable(identifier, value)
		}
	}
	return fmt.Errorf("undefined external variable %q", identifier)
}

func formatExternal(ext types.ExternalVariable) string {
	switch ext.Type {
	case types.ExternalInteger:
		return strconv.FormatInt(ext.IntValue, 10)
	case types.ExternalBoolean:
		return strconv.FormatBool(ext.BoolValue)
	case types.ExternalFloat:
		return strconv.FormatFloat(ext.FloatValue, 'g', -1, 64)
	case types.ExternalString:
		return ext.StringValue
	default:
		return ""
	}
}
