package config

import (
	"flag"
	"os"

	"github.com/sealcourier/sealcourier/internal/extraargs"
	"github.com/sealcourier/sealcourier/internal/flagx"
)

// allFlags lists every flag parseFlags understands, in both its short and
// long forms where both exist. Used to filter os.Args (and any tokens
// reinjected from --extra-args) down to what this package parses.
var allFlags = []string{
	"-j", "--jwt",
	"--uuid",
	"--adg",
	"--deployment-events",
	"-e", "--encrypt-only",
	"--skip-key",
	"--comment-no-sensitive-info",
	"--output",
	"--bundle-format-version",
	"-v", "--verbose",
	"--extra-args",
}

// parseFlags populates cfg from command-line flags, including any flags
// reinjected via --extra-args.
//
// --extra-args is resolved first (from the raw argv, filtered to just that
// flag) so its expanded tokens can be merged with the rest of the allowed
// argv before the real flag.FlagSet parses everything in one pass. This
// keeps --extra-args purely additive: an operator can pass a flag directly
// or bury it inside --extra-args and get the same result.
func parseFlags(cfg *Config) {
	rawArgs := os.Args[1:]

	extraArgsRaw := flagx.FilterArgs(rawArgs, []string{"--extra-args"})
	extraFS := flag.NewFlagSet("extra", flag.ContinueOnError)
	var extraArgsValue string
	extraFS.StringVar(&extraArgsValue, "extra-args", "", "")
	_ = extraFS.Parse(extraArgsRaw)

	args := flagx.FilterArgs(rawArgs, allFlags)
	args = append(args, flagx.FilterArgs(extraargs.Expand(extraArgsValue), allFlags)...)

	fs := flag.NewFlagSet("sealctl", flag.ContinueOnError)

	fs.StringVar(&cfg.JWT, "jwt", cfg.JWT, "bearer token, or a path to a file containing it")
	fs.StringVar(&cfg.JWT, "j", cfg.JWT, "shorthand for --jwt")
	fs.StringVar(&cfg.UUID, "uuid", cfg.UUID, "override for the x-uuid-project claim")
	fs.StringVar(&cfg.ADGPath, "adg", cfg.ADGPath, "directory of ADG files")
	fs.StringVar(&cfg.DeploymentEventsPath, "deployment-events", cfg.DeploymentEventsPath, "single deployment-events JSON file")
	fs.BoolVar(&cfg.EncryptOnly, "encrypt-only", cfg.EncryptOnly, "build the bundle only, skip upload")
	fs.BoolVar(&cfg.EncryptOnly, "e", cfg.EncryptOnly, "shorthand for --encrypt-only")
	fs.BoolVar(&cfg.SkipKey, "skip-key", cfg.SkipKey, "produce a cleartext bundle")
	fs.StringVar(&cfg.Comment, "comment-no-sensitive-info", cfg.Comment, "operator comment, written verbatim into the bundle")
	fs.StringVar(&cfg.OutputDir, "output", cfg.OutputDir, "artifact destination directory")
	bundleFormatVersion := fs.Int("bundle-format-version", cfg.BundleFormatVersion, "bundle container format: 1 (tar) or 2 (tar.gz)")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable debug logging and cause-chain reporting on failure")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "shorthand for --verbose")
	fs.String("extra-args", "", "comma-separated k=v… reinjection of the flags above")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.BundleFormatVersion = *bundleFormatVersion
}
