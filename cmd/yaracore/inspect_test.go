package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestRunInspectListsRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtureDoc), 0o644))

	inspectRulesPath = path

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	err := runInspect(cmd, nil)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "has_foo")
	require.Contains(t, buf.String(), "rules: 1")
}
