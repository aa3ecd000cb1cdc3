package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/stagefs/stagefs/internal/logger"
	stagingerrors "github.com/stagefs/stagefs/pkg/staging/errors"
)

// Format identifies a supported archive container.
type Format string

const (
	FormatZip   Format = "zip"
	FormatTar   Format = "tar"
	FormatTarGz Format = "tar.gz"
)

// DetectFormat sniffs the container from magic bytes. The client's file
// name and declared content type are not trusted.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// The tar magic sits at offset 257, past the member name field.
	header := make([]byte, 262)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, []byte("PK\x03\x04")), bytes.HasPrefix(header, []byte("PK\x05\x06")):
		return FormatZip, nil
	case bytes.HasPrefix(header, []byte{0x1f, 0x8b}):
		return FormatTarGz, nil
	case len(header) >= 262 && string(header[257:262]) == "ustar":
		return FormatTar, nil
	}
	return "", stagingerrors.NewUnsupportedMediaError("payload is not a zip or tar archive")
}

// entry is one regular file inside an archive. Directories, symlinks and
// special members never surface as entries.
type entry struct {
	// name is the member path as stored in the archive.
	name string

	// size is the declared uncompressed size.
	size int64

	// open returns the member's content. For tar containers the reader
	// shares the archive stream and must be drained before the next call
	// to the iterator.
	open func() (io.ReadCloser, error)
}

// entryIter walks an archive's regular-file members in stored order.
type entryIter interface {
	// Next returns the next member, io.EOF after the last one.
	Next() (*entry, error)
	Close() error
}

func openArchive(path string, format Format) (entryIter, error) {
	switch format {
	case FormatZip:
		return openZip(path)
	case FormatTar:
		return openTar(path, false)
	case FormatTarGz:
		return openTar(path, true)
	default:
		return nil, stagingerrors.NewUnsupportedMediaError(fmt.Sprintf("unknown archive format %q", format))
	}
}

type zipIter struct {
	rc   *zip.ReadCloser
	next int
}

func openZip(path string) (entryIter, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, stagingerrors.NewUnsupportedMediaError(fmt.Sprintf("unreadable zip archive: %v", err))
	}
	return &zipIter{rc: rc}, nil
}

func (it *zipIter) Next() (*entry, error) {
	for it.next < len(it.rc.File) {
		f := it.rc.File[it.next]
		it.next++
		if !f.FileInfo().Mode().IsRegular() {
			logger.Debug("Skipping non-regular archive member", "member", f.Name)
			continue
		}
		return &entry{
			name: f.Name,
			size: int64(f.UncompressedSize64),
			open: f.Open,
		}, nil
	}
	return nil, io.EOF
}

func (it *zipIter) Close() error { return it.rc.Close() }

type tarIter struct {
	f  *os.File
	gz *gzip.Reader
	tr *tar.Reader
}

func openTar(path string, compressed bool) (entryIter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	it := &tarIter{f: f}
	var src io.Reader = f
	if compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, stagingerrors.NewUnsupportedMediaError(fmt.Sprintf("unreadable gzip stream: %v", err))
		}
		it.gz = gz
		src = gz
	}
	it.tr = tar.NewReader(src)
	return it, nil
}

func (it *tarIter) Next() (*entry, error) {
	for {
		hdr, err := it.tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, stagingerrors.NewUnsupportedMediaError(fmt.Sprintf("corrupt tar archive: %v", err))
		}
		if hdr.Typeflag != tar.TypeReg {
			logger.Debug("Skipping non-regular archive member", "member", hdr.Name)
			continue
		}
		return &entry{
			name: hdr.Name,
			size: hdr.Size,
			open: func() (io.ReadCloser, error) { return io.NopCloser(it.tr), nil },
		}, nil
	}
}

func (it *tarIter) Close() error {
	if it.gz != nil {
		it.gz.Close()
	}
	return it.f.Close()
}
