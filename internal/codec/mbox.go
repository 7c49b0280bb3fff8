package codec

import (
	"io"
	"time"

	"github.com/emersion/go-mbox"
)

// MBOXReader wraps github.com/emersion/go-mbox, the same mbox parser
// the wider corpus depends on, to stream one message at a time off the
// classic "From " separated flat file.
type MBOXReader struct {
	r *mbox.Reader
}

func NewMBOXReader(r io.Reader) *MBOXReader {
	return &MBOXReader{r: mbox.NewReader(r)}
}

func (r *MBOXReader) Next() ([]byte, error) {
	msgReader, err := r.r.NextMessage()
	if err != nil {
		return nil, err // io.EOF at end of file, passed through as-is
	}
	return io.ReadAll(msgReader)
}

// MBOXWriter appends messages to an mbox file via go-mbox's Writer,
// which emits the "From " envelope separator and escapes embedded
// separator-looking lines in the message body.
type MBOXWriter struct {
	w *mbox.Writer
}

func NewMBOXWriter(w io.Writer) *MBOXWriter {
	return &MBOXWriter{w: mbox.NewWriter(w)}
}

func (w *MBOXWriter) Write(raw []byte) error {
	msgWriter, err := w.w.CreateMessage("archiver@localhost", time.Now())
	if err != nil {
		return err
	}
	_, err = msgWriter.Write(raw)
	return err
}

func (w *MBOXWriter) Close() error { return nil }
