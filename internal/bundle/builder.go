// Package bundle assembles the sealed, tamper-evident artifact: a
// ZIP-style container holding a fixed set of metadata entries plus the
// AES-GCM-encrypted (or, in skip-key mode, raw) payload.
package bundle

import (
	"archive/zip"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sealcourier/sealcourier/internal/bundleerr"
	"github.com/sealcourier/sealcourier/internal/cryptox"
	"github.com/sealcourier/sealcourier/internal/filex"
)

// Entry names, written in this exact order for every build (I1, ordering
// guarantee in the concurrency & resource model).
const (
	entryUUID      = "uuid.txt"
	entryDate      = "bundle_date.txt"
	entryContainer = "payload_container_type.txt"
	entryComment   = "comment.txt"
	entryVersion   = "bundle_format_version.txt"
	entryKey       = "key.txt"
	entryPubkey    = "pubkey.pem"
	entryTest      = "test.txt"
	entryIV        = "iv.txt"
	entryMime      = "mime.txt"
	entryPayload   = "payload.enc"
)

// PlaintextUploadUUID is written to uuid.txt when no project UUID is
// available.
const PlaintextUploadUUID = "plaintext_upload"

// outputSubdir is the tool-specific subdirectory created (if missing)
// beneath whichever output directory is chosen.
const outputSubdir = "sealcourier-artifacts"

// testPlaintextSize is the size, in bytes, of the random plaintext used for
// the test.txt known-answer probe.
const testPlaintextSize = 128

// Request describes one bundle build.
type Request struct {
	// UUID is the project identity; empty means PlaintextUploadUUID.
	UUID string
	// PubKeyPEM is the RSA public key used to wrap the AES key and seal
	// the payload; empty means skip-key (cleartext) mode.
	PubKeyPEM string
	// Payload is the stream to seal; must be non-nil.
	Payload io.Reader
	// IsArchive and ContainerType classify Payload, as produced by the
	// payload package.
	IsArchive     bool
	ContainerType string
	// Mime is the content-type token written to mime.txt.
	Mime string
	// Comment, if non-empty, is written to comment.txt.
	Comment string
	// OutputDir, if non-empty, is the operator-chosen artifact
	// destination; otherwise the process temp directory is used.
	OutputDir string
	// Version selects the bundle format: 1 or 2.
	Version int
}

// now is overridden in tests so artifact filenames and bundle_date.txt are
// deterministic.
var now = time.Now

// Build assembles a sealed artifact per req and returns its path. On any
// failure the partial artifact file is closed and deleted before the error
// is returned.
func Build(req *Request) (string, error) {
	if req.Payload == nil {
		return "", fmt.Errorf("%w: payload stream is nil", bundleerr.ErrBadInput)
	}

	outputDir, err := resolveOutputDir(req.OutputDir)
	if err != nil {
		return "", err
	}

	uuid := req.UUID
	if uuid == "" {
		uuid = PlaintextUploadUUID
	}

	buildTime := now()
	path := filepath.Join(outputDir, fmt.Sprintf("%s-%d.zip", uuid, buildTime.UnixMilli()))

	if err := build(req, uuid, buildTime, path); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func build(req *Request, uuid string, buildTime time.Time, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	if err := writeTextEntry(zw, entryUUID, uuid); err != nil {
		return err
	}
	if err := writeTextEntry(zw, entryDate, buildTime.UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if err := writeTextEntry(zw, entryContainer, req.ContainerType); err != nil {
		return err
	}
	if req.Comment != "" {
		if err := writeTextEntry(zw, entryComment, req.Comment); err != nil {
			return err
		}
	}
	if err := writeTextEntry(zw, entryVersion, fmt.Sprintf("%d", req.Version)); err != nil {
		return err
	}

	var aesKey, payloadIV []byte
	hasKey := req.PubKeyPEM != ""

	if hasKey {
		aesKey, err = cryptox.GenerateAESKey()
		if err != nil {
			return err
		}

		wrappedKey, err := cryptox.RSAOAEPWrap(req.PubKeyPEM, aesKey)
		if err != nil {
			return err
		}
		if err := writeTextEntry(zw, entryKey, base64.StdEncoding.EncodeToString(wrappedKey)); err != nil {
			return err
		}

		if err := writeTextEntry(zw, entryPubkey, req.PubKeyPEM); err != nil {
			return err
		}

		testEntry, err := buildTestEntry(aesKey)
		if err != nil {
			return err
		}
		if err := writeTextEntry(zw, entryTest, testEntry); err != nil {
			return err
		}

		payloadIV, err = cryptox.GenerateIV()
		if err != nil {
			return err
		}
		if err := writeTextEntry(zw, entryIV, base64.StdEncoding.EncodeToString(payloadIV)); err != nil {
			return err
		}
	}

	if err := writeTextEntry(zw, entryMime, req.Mime); err != nil {
		return err
	}

	payloadWriter, err := zw.CreateHeader(&zip.FileHeader{Name: entryPayload, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
	}

	if hasKey {
		if err := cryptox.AESGCMEncryptStream(aesKey, payloadIV, req.Payload, payloadWriter); err != nil {
			return err
		}
	} else {
		if _, err := io.CopyBuffer(payloadWriter, req.Payload, make([]byte, 4096)); err != nil {
			return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
	}
	return nil
}

// buildTestEntry generates a fresh test IV and testPlaintextSize random
// bytes, encrypts them under aesKey with that IV, and returns the three
// base64 lines (IV, plaintext, ciphertext) newline-joined, per §3's
// known-answer probe.
func buildTestEntry(aesKey []byte) (string, error) {
	testIV, err := cryptox.GenerateIV()
	if err != nil {
		return "", err
	}

	plaintext, err := cryptox.RandomBytes(testPlaintextSize)
	if err != nil {
		return "", err
	}

	var ciphertext []byte
	buf := &sliceWriter{}
	if err := cryptox.AESGCMEncryptStream(aesKey, testIV, byteReader(plaintext), buf); err != nil {
		return "", err
	}
	ciphertext = buf.data

	return fmt.Sprintf("%s\n%s\n%s",
		base64.StdEncoding.EncodeToString(testIV),
		base64.StdEncoding.EncodeToString(plaintext),
		base64.StdEncoding.EncodeToString(ciphertext),
	), nil
}

// sliceWriter accumulates writes into a single byte slice; used for the
// small, in-memory test.txt probe, which is far too small to warrant
// streaming.
type sliceWriter struct {
	data []byte
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func byteReader(b []byte) io.Reader {
	return &sliceReader{data: b}
}

type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func writeTextEntry(zw *zip.Writer, name, contents string) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
	}
	if _, err := io.WriteString(w, contents); err != nil {
		return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
	}
	return nil
}

// resolveOutputDir picks the artifact destination: operatorDir if given,
// else the process temp directory. Either way a tool-specific subdirectory
// is created if missing, so artifacts never collide with unrelated temp
// files.
func resolveOutputDir(operatorDir string) (string, error) {
	base := operatorDir
	if base == "" {
		base = os.TempDir()
	}

	dir, err := filex.EnsureSubdDir(base, outputSubdir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
	}
	return dir, nil
}
