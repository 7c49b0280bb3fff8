package codec

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// OpenMHReader lists the numbered message files of an MH folder (1, 2,
// 3, ... with no extension) in numeric order. Standard-library only,
// same justification as Maildir: a directory convention, not a format
// any pack example wraps a library around.
func OpenMHReader(dir string) (MessageReader, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var nums []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, err := strconv.Atoi(e.Name()); err == nil {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)

	var msgs [][]byte
	for _, n := range nums {
		data, err := os.ReadFile(filepath.Join(dir, strconv.Itoa(n)))
		if err != nil {
			return nil, fmt.Errorf("read message %d: %w", n, err)
		}
		msgs = append(msgs, data)
	}
	return newSliceReader(msgs), nil
}

// MHWriter appends messages as successively numbered files, starting
// after the highest number already present (mirroring nmh/MH's own
// append behavior).
type MHWriter struct {
	dir  string
	next int
}

func NewMHWriter(dir string) (*MHWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	highest := 0
	for _, e := range entries {
		if n, err := strconv.Atoi(e.Name()); err == nil && n > highest {
			highest = n
		}
	}
	return &MHWriter{dir: dir, next: highest + 1}, nil
}

func (w *MHWriter) Write(raw []byte) error {
	path := filepath.Join(w.dir, strconv.Itoa(w.next))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return err
	}
	w.next++
	return nil
}

func (w *MHWriter) Close() error { return nil }
