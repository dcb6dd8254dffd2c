package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withArgs(t *testing.T, args []string) {
	t.Helper()
	orig := os.Args
	t.Cleanup(func() { os.Args = orig })
	os.Args = args
}

func TestParseFlags_DirectFlags(t *testing.T) {
	withArgs(t, []string{"sealctl", "-j", "tok.jwt", "--adg", "/data/adg", "-e", "--bundle-format-version", "1"})

	cfg := &Config{}
	cfg.LoadDefaults()
	require.NotPanics(t, func() { parseFlags(cfg) })

	assert.Equal(t, "tok.jwt", cfg.JWT)
	assert.Equal(t, "/data/adg", cfg.ADGPath)
	assert.True(t, cfg.EncryptOnly)
	assert.Equal(t, 1, cfg.BundleFormatVersion)
}

func TestParseFlags_ExtraArgsReinjection(t *testing.T) {
	withArgs(t, []string{"sealctl", "--extra-args=--uuid,proj-123,--skip-key"})

	cfg := &Config{}
	cfg.LoadDefaults()
	require.NotPanics(t, func() { parseFlags(cfg) })

	assert.Equal(t, "proj-123", cfg.UUID)
	assert.True(t, cfg.SkipKey)
}

func TestParseFlags_ExtraArgsCombinesWithDirectFlags(t *testing.T) {
	withArgs(t, []string{"sealctl", "--deployment-events", "/data/events.json", "--extra-args=--comment-no-sensitive-info,build 42"})

	cfg := &Config{}
	cfg.LoadDefaults()
	require.NotPanics(t, func() { parseFlags(cfg) })

	assert.Equal(t, "/data/events.json", cfg.DeploymentEventsPath)
	assert.Equal(t, "build 42", cfg.Comment)
}

func TestParseFlags_VerboseShorthand(t *testing.T) {
	withArgs(t, []string{"sealctl", "-v"})

	cfg := &Config{}
	cfg.LoadDefaults()
	require.NotPanics(t, func() { parseFlags(cfg) })

	assert.True(t, cfg.Verbose)
}

func TestParseFlags_UnknownFlag_IsIgnored(t *testing.T) {
	withArgs(t, []string{"sealctl", "--not-a-real-flag", "x"})

	cfg := &Config{}
	cfg.LoadDefaults()
	// Unknown flags are filtered out of argv entirely before parsing, so
	// this should not panic — it's simply ignored, unlike a flag.FlagSet
	// parsing os.Args directly.
	require.NotPanics(t, func() { parseFlags(cfg) })
}
