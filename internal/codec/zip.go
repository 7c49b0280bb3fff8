package codec

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ZipEntriesReader reads every non-directory entry of a zip archive as
// one message each, sorted by name — the zip_eml and zip_maildir/zip_mh
// forms (the latter two flatten the directory tree's files into the
// archive). Standard library archive/zip: no pack example wraps a
// third-party zip library, and archive/zip is already the idiomatic
// choice even in large production repos.
type ZipEntriesReader struct {
	r   *sliceReader
}

func OpenZipEntriesReader(path string) (*ZipEntriesReader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip %s: %w", path, err)
	}
	defer zr.Close()

	var names []string
	files := map[string]*zip.File{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		names = append(names, f.Name)
		files[f.Name] = f
	}
	sort.Strings(names)

	var msgs [][]byte
	for _, name := range names {
		rc, err := files[name].Open()
		if err != nil {
			return nil, fmt.Errorf("open zip entry %s: %w", name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read zip entry %s: %w", name, err)
		}
		msgs = append(msgs, data)
	}

	return &ZipEntriesReader{r: newSliceReader(msgs)}, nil
}

func (r *ZipEntriesReader) Next() ([]byte, error) { return r.r.Next() }

// ZipEntriesWriter writes each message as its own numbered entry in a
// new zip archive, used for zip_eml/zip_maildir/zip_mh export.
type ZipEntriesWriter struct {
	zw    *zip.Writer
	buf   *bytes.Buffer
	path  string
	count int
}

func NewZipEntriesWriter(path string) *ZipEntriesWriter {
	buf := &bytes.Buffer{}
	return &ZipEntriesWriter{zw: zip.NewWriter(buf), buf: buf, path: path}
}

func (w *ZipEntriesWriter) Write(raw []byte) error {
	w.count++
	entry, err := w.zw.Create(fmt.Sprintf("%05d.eml", w.count))
	if err != nil {
		return err
	}
	_, err = entry.Write(raw)
	return err
}

func (w *ZipEntriesWriter) Close() error {
	if err := w.zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(w.path, w.buf.Bytes(), 0o644)
}

// ZipSingleFileReader opens a zip archive expected to contain exactly
// one non-zip container file (an mbox, mmdf, or babyl file) and returns
// a reader over its bytes, for the zip_mbox-style single-file forms.
func ZipSingleFileReader(path string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip %s: %w", path, err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			zr.Close()
			return nil, err
		}
		return &zipWrappedFile{ReadCloser: rc, archive: zr}, nil
	}
	zr.Close()
	return nil, fmt.Errorf("zip %s: no file entries", filepath.Base(path))
}

type zipWrappedFile struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (f *zipWrappedFile) Close() error {
	_ = f.ReadCloser.Close()
	return f.archive.Close()
}
