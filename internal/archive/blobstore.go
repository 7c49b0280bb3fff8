package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// BlobStore is a content-addressed file layout rooted at a single
// directory. Email bodies and attachments are both stored through it;
// the path recorded on the Email/Attachment row is relative to the
// store's root so the root itself can move.
type BlobStore struct {
	root string
}

// NewBlobStore creates a blob store rooted at root, creating the
// directory if necessary.
func NewBlobStore(root string) (*BlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob store root: %w", err)
	}
	return &BlobStore{root: root}, nil
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// maxSanitizedLength is spec.md's "truncate to 200 chars" cap on a
// sanitized path component (message-id or filename).
const maxSanitizedLength = 200

// sanitizeFilename removes characters that don't belong in a path
// component, collapsing runs of them to a single underscore, and caps
// the result at maxSanitizedLength characters.
func sanitizeFilename(name string) string {
	if name == "" {
		return "attachment"
	}
	clean := unsafeFilename.ReplaceAllString(name, "_")
	if len(clean) > maxSanitizedLength {
		clean = clean[:maxSanitizedLength]
	}
	return clean
}

// PutEmail stores raw message bytes under
// <mailbox-id>/<email-id>_<sanitized-message-id>.eml and returns the
// path relative to root.
func (b *BlobStore) PutEmail(mailboxID, emailID int64, messageID string, raw []byte) (string, error) {
	name := fmt.Sprintf("%d_%s.eml", emailID, sanitizeFilename(messageID))
	rel := filepath.Join(fmt.Sprintf("%d", mailboxID), name)
	return rel, b.write(rel, raw)
}

// PutAttachment stores attachment bytes under
// <mailbox-id>/<email-id>/<attachment-id>_<sanitized-filename> and
// returns the path relative to root, per spec.md's content-addressed
// layout for attachments.
func (b *BlobStore) PutAttachment(mailboxID, emailID, attachmentID int64, filename string, data []byte) (string, error) {
	name := fmt.Sprintf("%d_%s", attachmentID, sanitizeFilename(filename))
	rel := filepath.Join(fmt.Sprintf("%d", mailboxID), fmt.Sprintf("%d", emailID), name)
	return rel, b.write(rel, data)
}

func (b *BlobStore) write(rel string, data []byte) error {
	full := filepath.Join(b.root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

// Read loads the bytes stored at rel (as returned by PutEmail /
// PutAttachment).
func (b *BlobStore) Read(rel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(b.root, rel))
}

// Hash returns the hex-encoded SHA-256 of data, used by callers that
// want a stable identity for deduplication across mailboxes beyond the
// (mailbox, message-id) key enforced by the emails table.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
