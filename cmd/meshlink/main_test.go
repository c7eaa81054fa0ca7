package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_InvalidConfigReturnsError(t *testing.T) {
	previous := *configFile
	*configFile = filepath.Join(t.TempDir(), "missing.yml")
	defer func() { *configFile = previous }()

	err := run(discoverCmd.FullCommand())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestRun_UnknownCommandReturnsError(t *testing.T) {
	t.Setenv("STUN_SERVERS", "")
	t.Setenv("P2P_PORT", "")
	t.Setenv("LOG_LEVEL", "")

	err := run("bogus")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}
