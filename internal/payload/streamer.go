// Package payload presents a filesystem path — a single file or a
// directory tree — as one readable byte stream, so the bundle builder never
// has to special-case its input.
package payload

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/sealcourier/sealcourier/internal/bundleerr"
)

// ContainerType names how the payload is packaged, mirroring
// payload_container_type.txt inside the bundle.
type ContainerType string

const (
	ContainerFile  ContainerType = "file"
	ContainerTar   ContainerType = "tar"
	ContainerTarGz ContainerType = "tar.gz"
)

// Stream is a lazily-produced payload byte stream plus its container
// classification. Close must be called exactly once; it waits for any
// background producer to terminate and surfaces a producer error that
// occurred but had not yet been observed via Read.
type Stream struct {
	io.Reader
	closer        func() error
	ContainerType ContainerType
	IsArchive     bool
}

// Close releases the stream's resources, joining any producer goroutine.
func (s *Stream) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Open inspects path and returns the appropriate stream: the file itself if
// path is a regular file, or a lazily-produced (optionally gzip'd, per
// bundleFormatVersion) tar stream if path is a directory.
func Open(path string, bundleFormatVersion int) (*Stream, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
	}

	if info.Mode().IsRegular() {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
		}
		return &Stream{
			Reader:        f,
			closer:        f.Close,
			ContainerType: ContainerFile,
			IsArchive:     false,
		}, nil
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is neither a regular file nor a directory", bundleerr.ErrBadInput, path)
	}

	return openDirectory(path, bundleFormatVersion)
}

// openDirectory starts a producer goroutine that walks root and writes a
// tar (or tar.gz, under bundleFormatVersion >= 2) stream into a pipe; the
// returned Stream's Reader is the pipe's read side. io.Pipe is unbuffered
// and blocks the writer until a reader drains it, giving the producer
// backpressure without a separate ring buffer.
func openDirectory(root string, bundleFormatVersion int) (*Stream, error) {
	pr, pw := io.Pipe()

	containerType := ContainerTar
	if bundleFormatVersion >= 2 {
		containerType = ContainerTarGz
	}

	done := make(chan error, 1)
	go produceTar(root, pw, bundleFormatVersion, done)

	closer := func() error {
		closeErr := pr.Close()
		producerErr := <-done
		if producerErr != nil && producerErr != io.EOF {
			return producerErr
		}
		return closeErr
	}

	return &Stream{
		Reader:        pr,
		closer:        closer,
		ContainerType: containerType,
		IsArchive:     true,
	}, nil
}

// produceTar walks root, writing every regular file beneath it into a tar
// stream (gzip-wrapped when bundleFormatVersion >= 2) on pw. Any error is
// both used to close pw with CloseWithError (so the consumer's next Read
// observes it) and sent on done (so Close can observe it even if nothing
// ever reads from the pipe).
func produceTar(root string, pw *io.PipeWriter, bundleFormatVersion int, done chan<- error) {
	err := writeTar(root, pw, bundleFormatVersion)
	if err != nil {
		_ = pw.CloseWithError(err)
	} else {
		_ = pw.Close()
	}
	done <- err
}

func writeTar(root string, w io.Writer, bundleFormatVersion int) error {
	var tw *tar.Writer
	var gz *gzip.Writer

	if bundleFormatVersion >= 2 {
		gz = gzip.NewWriter(w)
		tw = tar.NewWriter(gz)
	} else {
		tw = tar.NewWriter(w)
	}

	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
		}
		if info.IsDir() {
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
		}
		rel = filepath.ToSlash(rel)

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
		}
		hdr.Name = rel
		hdr.Format = tar.FormatPAX // accommodates entry names > 100 bytes

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
		}
		defer f.Close()

		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("%w: %v", bundleerr.ErrIOFail, err)
		}
	}
	return nil
}
