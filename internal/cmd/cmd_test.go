package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartd-org/chartd/internal/build"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	c := versionCmd()
	c.SetOut(&out)

	require.NoError(t, c.Execute())
	assert.Contains(t, out.String(), build.AppName)
	assert.Contains(t, out.String(), build.Version)
}

func TestRootRegistersCommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["start"])
	assert.True(t, names["status"])
	assert.True(t, names["version"])
}
