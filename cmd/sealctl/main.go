// Command sealctl packages a local payload into a sealed bundle and, unless
// told to skip it, uploads it to the destination named by a bearer token's
// claims.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"

	"github.com/sealcourier/sealcourier/internal/bundle"
	"github.com/sealcourier/sealcourier/internal/bundleerr"
	"github.com/sealcourier/sealcourier/internal/claims"
	"github.com/sealcourier/sealcourier/internal/config"
	"github.com/sealcourier/sealcourier/internal/logging"
	"github.com/sealcourier/sealcourier/internal/payload"
	"github.com/sealcourier/sealcourier/internal/upload"
)

const (
	mimeADG              = "application/vnd.cc.bigtent"
	mimeDeploymentEvents = "application/vnd.info.deployevent"
)

func main() {
	cfg := config.LoadConfig()

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error(context.Background(), "sealctl failed", "error", err.Error())
		if cfg.Verbose {
			for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
				logger.Error(context.Background(), "caused by", "error", cause.Error())
			}
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	payloadPath, mime, err := resolveMode(cfg)
	if err != nil {
		return err
	}

	// A token is required for every claim this run could possibly need
	// except when skip-key and encrypt-only are both set, since that is
	// the only combination that needs neither a key/uuid claim (skip-key)
	// nor a server/expiry claim (encrypt-only).
	var tokenClaims *claims.Claims
	if !cfg.SkipKey || !cfg.EncryptOnly {
		tokenClaims, err = claims.ResolveToken(cfg.JWT)
		if err != nil {
			return err
		}
	}

	stream, err := payload.Open(payloadPath, cfg.BundleFormatVersion)
	if err != nil {
		return err
	}
	defer stream.Close()

	pubKeyPEM, err := tokenClaims.ResolvePublicKey(cfg.SkipKey)
	if err != nil {
		return err
	}

	uuidValue, err := tokenClaims.ResolveUUID(cfg.SkipKey, cfg.UUID)
	if err != nil {
		return err
	}

	outputDir := config.ResolveOutputDir(cfg.OutputDir, payloadPath)

	artifactPath, err := bundle.Build(&bundle.Request{
		UUID:          uuidValue,
		PubKeyPEM:     pubKeyPEM,
		Payload:       stream,
		IsArchive:     stream.IsArchive,
		ContainerType: string(stream.ContainerType),
		Mime:          mime,
		Comment:       cfg.Comment,
		OutputDir:     outputDir,
		Version:       cfg.BundleFormatVersion,
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "bundle built", "path", artifactPath)

	if cfg.EncryptOnly {
		fmt.Println(artifactPath)
		return nil
	}

	if err := tokenClaims.NotExpired(time.Now()); err != nil {
		return err
	}
	server, err := tokenClaims.ResolveServer()
	if err != nil {
		return err
	}
	challenge, _ := tokenClaims.ResolveChallenge()

	reporter := newBarReporter(os.Stderr)
	client := upload.NewClient(upload.Timeouts{
		Connect: cfg.ConnectTimeout,
		Read:    cfg.ReadTimeout,
		Write:   cfg.WriteTimeout,
	}, logger, reporter)

	resp, err := client.Upload(ctx, server, tokenClaims.Token(), artifactPath, pubKeyPEM, challenge)
	reporter.finish()
	if err != nil {
		return err
	}

	fmt.Println(resp.BundleID)
	return nil
}

// resolveMode enforces that exactly one of --adg / --deployment-events is
// given and returns the payload path and the MIME token it selects.
func resolveMode(cfg *config.Config) (path, mime string, err error) {
	switch {
	case cfg.ADGPath != "" && cfg.DeploymentEventsPath != "":
		return "", "", fmt.Errorf("%w: --adg and --deployment-events are mutually exclusive", bundleerr.ErrBadInput)
	case cfg.ADGPath != "":
		return cfg.ADGPath, mimeADG, nil
	case cfg.DeploymentEventsPath != "":
		return cfg.DeploymentEventsPath, mimeDeploymentEvents, nil
	default:
		return "", "", fmt.Errorf("%w: one of --adg or --deployment-events is required", bundleerr.ErrBadInput)
	}
}

// barReporter renders upload.Reporter events as a terminal progress bar; pb
// itself degrades to plain, infrequent line output when stderr is not a
// TTY.
type barReporter struct {
	bar *pb.ProgressBar
}

func newBarReporter(out *os.File) *barReporter {
	bar := pb.New64(0)
	bar.SetTemplateString(`{{counters . }} {{bar . }} {{percent . }} {{speed . }}`)
	bar.SetWriter(out)
	return &barReporter{bar: bar}
}

func (r *barReporter) Dot() {}

func (r *barReporter) Log(percent int, bytesUploaded, totalSize int64, intervalBytesPerSec, avgBytesPerSec float64) {
	if r.bar.Total() != totalSize {
		r.bar.SetTotal(totalSize)
		r.bar.Start()
	}
	r.bar.SetCurrent(bytesUploaded)
}

func (r *barReporter) finish() {
	r.bar.Finish()
}
