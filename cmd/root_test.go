//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{
		"fit", "effects", "simulate", "batch", "runs",
		"fetch", "export", "geo", "publish", "explain", "serve",
	}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "etwfe", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestFitCommand_Flags(t *testing.T) {
	for _, name := range []string{"data", "model", "group", "time"} {
		require.NotNil(t, fitCmd.Flags().Lookup(name), "fit should have --%s flag", name)
	}

	policy := fitCmd.Flags().Lookup("policy")
	require.NotNil(t, policy)
	assert.Equal(t, "not_yet_treated", policy.DefValue)

	mode := fitCmd.Flags().Lookup("mode")
	require.NotNil(t, mode)
	assert.Equal(t, "interacted", mode.DefValue)

	family := fitCmd.Flags().Lookup("family")
	require.NotNil(t, family)
	assert.Equal(t, "gaussian", family.DefValue)

	vcov := fitCmd.Flags().Lookup("vcov")
	require.NotNil(t, vcov)
	assert.Equal(t, "iid", vcov.DefValue)
}

func TestEffectsCommand_Flags(t *testing.T) {
	kind := effectsCmd.Flags().Lookup("kind")
	require.NotNil(t, kind)
	assert.Equal(t, "[event]", kind.DefValue)

	save := effectsCmd.Flags().Lookup("save")
	require.NotNil(t, save)
	assert.Equal(t, "true", save.DefValue)
}

func TestBatchCommand_Flags(t *testing.T) {
	require.NotNil(t, batchCmd.Flags().Lookup("studies"))

	conc := batchCmd.Flags().Lookup("concurrency")
	require.NotNil(t, conc)
	assert.Equal(t, "4", conc.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"list", "show", "delete", "stats"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
}

func TestRunsListCommand_Flags(t *testing.T) {
	limit := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "50", limit.DefValue)
}

func TestSimulateCommand_Flags(t *testing.T) {
	units := simulateCmd.Flags().Lookup("units")
	require.NotNil(t, units)
	assert.Equal(t, "50", units.DefValue)

	seed := simulateCmd.Flags().Lookup("seed")
	require.NotNil(t, seed)
	assert.Equal(t, "1", seed.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	addr := serveCmd.Flags().Lookup("addr")
	require.NotNil(t, addr)
	assert.Equal(t, "", addr.DefValue)
}

func TestGeoCommand_HasAssign(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range geoCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["assign"], "geo should have subcommand assign")
}

func TestExportCommand_Flags(t *testing.T) {
	format := exportCmd.Flags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "csv", format.DefValue)

	what := exportCmd.Flags().Lookup("what")
	require.NotNil(t, what)
	assert.Equal(t, "effects", what.DefValue)
}

func TestExplainCommand_Flags(t *testing.T) {
	kind := explainCmd.Flags().Lookup("kind")
	require.NotNil(t, kind)
	assert.Equal(t, "event", kind.DefValue)

	maxTokens := explainCmd.Flags().Lookup("max-tokens")
	require.NotNil(t, maxTokens)
	assert.Equal(t, "1024", maxTokens.DefValue)
}
