package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithLogFileCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.log")

	Init(InitOptions{Format: "json", Severity: INFO, LogFile: path, MaxSizeMB: 1})
	Infof("boot complete")

	_, err := os.Stat(path)
	require.NoError(t, err)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "boot complete")

	// Restore stderr-backed default for the rest of the suite.
	Init(InitOptions{Format: "json", Severity: OFF})
}
