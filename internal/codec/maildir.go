package codec

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// maildirSubdirs are the three directories every Maildir must have.
var maildirSubdirs = []string{"cur", "new", "tmp"}

// OpenMaildirReader lists every message file under cur/ and new/ (tmp/
// holds messages still being delivered and is skipped) and returns them
// as a MessageReader, sorted by filename for deterministic export
// ordering. Standard-library only (os, path/filepath) — Maildir is a
// filesystem convention, not a wire format, and no pack example wraps
// one in a dedicated library.
func OpenMaildirReader(dir string) (MessageReader, error) {
	var files []string
	for _, sub := range []string{"cur", "new"} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", sub, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			files = append(files, filepath.Join(dir, sub, e.Name()))
		}
	}
	sort.Strings(files)

	var msgs [][]byte
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		msgs = append(msgs, data)
	}
	return newSliceReader(msgs), nil
}

// MaildirWriter delivers each message as a new file under new/, using
// the standard <timestamp>.<unique>.<hostname> naming convention
// (abbreviated: a UUID stands in for the pid/inode uniqueness token and
// the fixed string "archiver" stands in for the hostname).
type MaildirWriter struct {
	dir string
}

func NewMaildirWriter(dir string) (*MaildirWriter, error) {
	for _, sub := range maildirSubdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
	}
	return &MaildirWriter{dir: dir}, nil
}

func (w *MaildirWriter) Write(raw []byte) error {
	name := fmt.Sprintf("%d.%s.archiver", time.Now().UnixNano(), uuid.NewString())
	path := filepath.Join(w.dir, "new", name)
	return os.WriteFile(path, raw, 0o644)
}

func (w *MaildirWriter) Close() error { return nil }
