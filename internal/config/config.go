package config

import "time"

// Config holds every operator-controlled and process-wide setting for one
// invocation of the tool.
//
// Precedence, low to high: (*Config).LoadDefaults, then an optional JSON
// file (parseJson), then command-line flags (parseFlags) — including any
// flags reinjected via --extra-args. Later stages override earlier ones.
type Config struct {
	// JWT is the bearer token, or a path to a file containing it.
	JWT string
	// UUID overrides the x-uuid-project claim.
	UUID string
	// ADGPath is the directory of ADG files, mutually exclusive with
	// DeploymentEventsPath.
	ADGPath string
	// DeploymentEventsPath is a single JSON file, mutually exclusive with
	// ADGPath.
	DeploymentEventsPath string
	// EncryptOnly builds the bundle but skips the upload phase.
	EncryptOnly bool
	// SkipKey produces a cleartext bundle with no RSA-wrapped key material.
	SkipKey bool
	// Comment is written to comment.txt when non-empty.
	Comment string
	// OutputDir is the artifact destination directory; when empty,
	// ResolveOutputDir picks the payload's parent directory if writable,
	// else the process temp directory.
	OutputDir string
	// BundleFormatVersion selects the container format: 1 (tar, legacy) or
	// 2 (tar.gz).
	BundleFormatVersion int
	// Verbose enables debug-level logging and cause-chain reporting on
	// failure.
	Verbose bool

	// ConnectTimeout bounds establishing the TCP/TLS connection to the
	// ingestion service.
	ConnectTimeout time.Duration
	// ReadTimeout bounds waiting for a response.
	ReadTimeout time.Duration
	// WriteTimeout bounds writing a request body (part uploads).
	WriteTimeout time.Duration
}

// LoadDefaults populates c with the tool's built-in defaults.
func (c *Config) LoadDefaults() {
	c.BundleFormatVersion = 2
	c.ConnectTimeout = 30 * time.Second
	c.ReadTimeout = 5 * time.Minute
	c.WriteTimeout = 10 * time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from an optional JSON file and finally command-line flags (both the
// direct argv and any tokens reinjected from --extra-args).
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
