package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/sealcourier/sealcourier/internal/flagx"
	"github.com/sealcourier/sealcourier/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling of the
// process-wide tunables an operator rarely needs to override per
// invocation: network timeouts and the default bundle format. Per-run
// choices (token, paths, uuid, comment) are flag-only.
type JsonConfig struct {
	ConnectTimeout      timex.Duration `json:"connect_timeout"`
	ReadTimeout         timex.Duration `json:"read_timeout"`
	WriteTimeout        timex.Duration `json:"write_timeout"`
	BundleFormatVersion int            `json:"bundle_format_version"`
}

// parseJson overlays cfg with values loaded from a JSON file selected via
// -c or -config. If neither flag is present, this is a no-op.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig
	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ConnectTimeout.Duration != 0 {
		cfg.ConnectTimeout = time.Duration(jc.ConnectTimeout.Duration)
	}
	if jc.ReadTimeout.Duration != 0 {
		cfg.ReadTimeout = time.Duration(jc.ReadTimeout.Duration)
	}
	if jc.WriteTimeout.Duration != 0 {
		cfg.WriteTimeout = time.Duration(jc.WriteTimeout.Duration)
	}
	if jc.BundleFormatVersion != 0 {
		cfg.BundleFormatVersion = jc.BundleFormatVersion
	}
}
