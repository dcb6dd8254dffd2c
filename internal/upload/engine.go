// Package upload drives the three-phase resumable multipart upload
// protocol: init, parallel PUT parts with retry, complete.
package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/sealcourier/sealcourier/internal/bundleerr"
	"github.com/sealcourier/sealcourier/internal/cryptox"
	"github.com/sealcourier/sealcourier/internal/logging"
)

const maxConcurrentParts = 4

// cancelOnCloseBody defers releasing a per-attempt timeout context until the
// response body it guards is closed, instead of at header receipt. Without
// this, a context.WithTimeout torn down by a deferred cancel() the moment
// http.Client.Do returns would cancel any body read that happens afterward
// in the caller — fine for a response small enough to already sit in the
// transport's read buffer, but a spurious "context canceled" for any
// response whose body spans more than one socket read.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// doWithDeadline runs req under a context bounded by timeout, keeping that
// context alive until the response body is closed so the deadline covers
// the full request/response cycle, body included, rather than just reaching
// the response headers.
func (c *Client) doWithDeadline(ctx context.Context, timeout time.Duration, req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// Client drives uploads against a single ingestion base URL. Construct one
// per process and reuse it; it wraps a single *http.Client whose transport
// keeps connections warm across parts and across separate Upload calls.
type Client struct {
	httpClient *http.Client
	logger     logging.Logger
	reporter   Reporter
	timeouts   Timeouts
}

// Timeouts bundles the three connect/read/write deadlines the wire protocol
// specifies.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Write   time.Duration
}

// NewClient builds a Client whose transport dials with the given connect
// timeout. Read and write timeouts are applied per-request as context
// deadlines inside Upload (read for the JSON init/complete calls, write for
// the binary part PUTs).
func NewClient(timeouts Timeouts, logger logging.Logger, reporter Reporter) *Client {
	if reporter == nil {
		reporter = NoopReporter{}
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: timeouts.Connect}).DialContext,
	}
	return &Client{
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
		reporter:   reporter,
		timeouts:   timeouts,
	}
}

// Upload runs the full init -> parallel PUT parts -> complete sequence for
// the artifact at artifactPath against baseURL, authenticating with token.
// If challenge is non-empty it is RSA-OAEP-wrapped under pubKeyPEM and sent
// in the init request; a non-empty challenge with an empty pubKeyPEM is
// ErrBadInput.
func (c *Client) Upload(ctx context.Context, baseURL, token, artifactPath, pubKeyPEM, challenge string) (*CompleteResponse, error) {
	base := normalizeURL(baseURL)
	logger := c.logger.With("upload_id", uuid.New().String())

	logger.Info(ctx, "starting direct upload", "destination", hostnameOf(base), "challenge_verification", challenge != "")

	if challenge != "" && pubKeyPEM == "" {
		return nil, fmt.Errorf("%w: challenge present without a public key", bundleerr.ErrBadInput)
	}

	sum, size, err := hashAndSize(artifactPath)
	if err != nil {
		return nil, err
	}

	var encryptedChallenge string
	if challenge != "" {
		wrapped, err := cryptox.RSAOAEPWrap(pubKeyPEM, []byte(challenge))
		if err != nil {
			return nil, err
		}
		encryptedChallenge = base64.StdEncoding.EncodeToString(wrapped)
	}

	initResp, err := c.initUpload(ctx, logger, base, token, sum, size, artifactPath, encryptedChallenge)
	if err != nil {
		return nil, err
	}

	tracker := newProgressTracker(size, c.reporter)

	parts, err := c.uploadParts(ctx, logger, artifactPath, initResp.Parts, tracker)
	if err != nil {
		return nil, err
	}

	resp, err := c.completeUpload(ctx, logger, base, token, initResp.UploadID, initResp.BlobKey, sum, parts)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "upload complete", "bundle_id", resp.BundleID, "size", formatBytes(size))
	return resp, nil
}

// hostnameOf returns base's host for logging, falling back to the raw
// string if it does not parse as a URL.
func hostnameOf(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return base
	}
	return u.Host
}

func (c *Client) initUpload(ctx context.Context, logger logging.Logger, base, token, sum string, size int64, artifactPath, encryptedChallenge string) (*initResponse, error) {
	reqBody := initRequest{
		SHA256:             sum,
		SizeBytes:          size,
		Filename:           filenameOf(artifactPath),
		EncryptedChallenge: encryptedChallenge,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	resp, err := executeWithRetry(ctx, logger, "init", nil, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/init", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		return c.doWithDeadline(ctx, c.timeouts.Read, req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out initResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: unparseable init response: %v", bundleerr.ErrProtocolError, err)
	}

	var missing []string
	if out.UploadID == "" {
		missing = append(missing, "uploadId")
	}
	if out.BlobKey == "" {
		missing = append(missing, "blobKey")
	}
	if out.BundleID == "" {
		missing = append(missing, "bundleId")
	}
	if len(out.Parts) == 0 {
		missing = append(missing, "parts")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", bundleerr.ErrProtocolError, strings.Join(missing, ", "))
	}

	return &out, nil
}

func (c *Client) uploadParts(ctx context.Context, logger logging.Logger, artifactPath string, parts []PartInfo, tracker *progressTracker) ([]completedPart, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentParts)

	results := make([]completedPart, len(parts))
	var mu sync.Mutex
	var secondary error

	for i, part := range parts {
		i, part := i, part
		g.Go(func() error {
			etag, err := c.uploadPart(ctx, logger, artifactPath, part, tracker)
			if err != nil {
				mu.Lock()
				secondary = multierr.Append(secondary, err)
				mu.Unlock()
				return err
			}
			results[i] = completedPart{PartNumber: part.PartNumber, ETag: etag}
			return nil
		})
	}

	firstErr := g.Wait()
	if firstErr != nil {
		if others := multierr.Errors(secondary); len(others) > 1 {
			logger.Warn(ctx, "additional part upload failures suppressed", "count", len(others)-1)
		}
		return nil, firstErr
	}

	sort.Slice(results, func(i, j int) bool { return results[i].PartNumber < results[j].PartNumber })
	return results, nil
}

func (c *Client) uploadPart(ctx context.Context, logger logging.Logger, artifactPath string, part PartInfo, tracker *progressTracker) (string, error) {
	var attemptBytes int64

	resp, err := executeWithRetry(ctx, logger, fmt.Sprintf("part-%d", part.PartNumber), func() {
		tracker.rollback(attemptBytes)
		attemptBytes = 0
	}, func(ctx context.Context) (*http.Response, error) {
		f, err := os.Open(artifactPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if _, err := f.Seek(part.Offset, io.SeekStart); err != nil {
			return nil, err
		}

		body := &countingReader{r: io.LimitReader(f, part.Size), onRead: func(n int64) {
			attemptBytes += n
			tracker.addBytes(n)
		}}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, part.PresignedURL, body)
		if err != nil {
			return nil, err
		}
		req.ContentLength = part.Size
		req.Header.Set("Content-Type", "application/octet-stream")
		return c.doWithDeadline(ctx, c.timeouts.Write, req)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if etag == "" {
		return "", fmt.Errorf("%w: part %d response missing ETag", bundleerr.ErrProtocolError, part.PartNumber)
	}
	return etag, nil
}

func (c *Client) completeUpload(ctx context.Context, logger logging.Logger, base, token, uploadID, blobKey, sum string, parts []completedPart) (*CompleteResponse, error) {
	reqBody := completeRequest{
		UploadID: uploadID,
		BlobKey:  blobKey,
		SHA256:   sum,
		Parts:    parts,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	resp, err := executeWithRetry(ctx, logger, "complete", nil, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/complete", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		return c.doWithDeadline(ctx, c.timeouts.Read, req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out CompleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: unparseable complete response: %v", bundleerr.ErrProtocolError, err)
	}
	return &out, nil
}

// normalizeURL strips exactly one trailing slash so base+"/init" never
// produces a doubled slash.
func normalizeURL(base string) string {
	return strings.TrimSuffix(base, "/")
}

func hashAndSize(path string) (sum string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func filenameOf(path string) string {
	i := strings.LastIndexAny(path, `/\`)
	if i < 0 {
		return path
	}
	return path[i+1:]
}

// countingReader reports every successful Read to onRead, used to feed
// progress accounting without buffering the part body.
type countingReader struct {
	r      io.Reader
	onRead func(n int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.onRead(int64(n))
	}
	return n, err
}
