// Package extraargs reinjects a single --extra-args value (a comma-joined
// token list) as if its tokens had been passed directly on the command
// line, so operators can pass the whole CLI surface through one flag when
// wrapping this tool from another launcher.
package extraargs

import "strings"

// expectsValue lists the long and short flags that consume the following
// token as their value, used to decide whether a plain (non-dash) token
// belongs to the flag before it.
var expectsValue = map[string]bool{
	"-j":                          true,
	"--jwt":                       true,
	"--uuid":                      true,
	"--adg":                       true,
	"--deployment-events":         true,
	"--comment-no-sensitive-info": true,
	"--output":                    true,
	"--bundle-format-version":     true,
}

// Expand splits raw on commas, trims whitespace from each token, and
// returns the resulting argv-style slice. A bare token (no leading '-')
// immediately following a flag that expectsValue reports as value-taking
// is folded into that flag as "flag=value", so the pairing survives
// regardless of how the tokens are re-parsed downstream. A bare token
// following anything else (a boolean flag, or a flag already carrying an
// '=value') is left standing on its own.
func Expand(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	tokens := strings.Split(raw, ",")
	trimmed := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		t := strings.TrimSpace(tok)
		if t != "" {
			trimmed = append(trimmed, t)
		}
	}

	out := make([]string, 0, len(trimmed))
	for i := 0; i < len(trimmed); i++ {
		tok := trimmed[i]
		if ExpectsValue(tok) && !strings.Contains(tok, "=") && i+1 < len(trimmed) && !strings.HasPrefix(trimmed[i+1], "-") {
			out = append(out, tok+"="+trimmed[i+1])
			i++
			continue
		}
		out = append(out, tok)
	}
	return out
}

// ExpectsValue reports whether flag is known to consume a following token
// as its value. Unknown flags are assumed boolean (no value).
func ExpectsValue(flag string) bool {
	name := flag
	if idx := strings.IndexByte(flag, '='); idx >= 0 {
		name = flag[:idx]
	}
	return expectsValue[name]
}
