// Package timex provides a JSON-friendly duration scalar for configuration
// files, so a config value can be written either as a Go duration string
// ("30s", "5m") or as a bare integer of nanoseconds.
package timex

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration with custom JSON marshalling.
type Duration struct {
	time.Duration
}

// UnmarshalJSON accepts either a quoted duration string parseable by
// time.ParseDuration, or a bare JSON number interpreted as nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("timex: invalid duration string %q: %w", v, err)
		}
		d.Duration = parsed
		return nil
	case float64:
		d.Duration = time.Duration(v)
		return nil
	default:
		return fmt.Errorf("timex: duration must be a string or number, got %T", raw)
	}
}

// MarshalJSON renders the duration in its Go string form, e.g. "30s".
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}
