package archive

import (
	"database/sql"
	"strings"

	"github.com/archivekeep/mailarchiver/internal/model"
)

// GetEmail loads an email row by id, returning nil if it doesn't exist.
// Used by the "restore" command to locate the blob it re-delivers.
func (s *Store) GetEmail(id int64) (*model.Email, error) {
	row := s.db.QueryRow(`SELECT id, mailbox_id, message_id, subject, date, blob_path, size, refs, in_reply_to, is_spam, favorite, created_at FROM emails WHERE id = ?`, id)
	return scanEmail(row)
}

// ListEmailsByMailbox returns every email archived in a mailbox, oldest
// first, used by the "export" command to walk a mailbox into a
// mailbox-file format.
func (s *Store) ListEmailsByMailbox(mailboxID int64) ([]model.Email, error) {
	rows, err := s.db.Query(`SELECT id, mailbox_id, message_id, subject, date, blob_path, size, refs, in_reply_to, is_spam, favorite, created_at FROM emails WHERE mailbox_id = ? ORDER BY date`, mailboxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Email
	for rows.Next() {
		e, err := scanEmailRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// SetEmailFavorite records an email's favorite flag. Favoriting is a
// pure archive-metadata operation — it never touches the remote server.
func (s *Store) SetEmailFavorite(id int64, favorite bool) error {
	_, err := s.db.Exec(`UPDATE emails SET favorite = ? WHERE id = ?`, favorite, id)
	return err
}

// GetAttachment loads a single attachment row by id, returning nil if
// it doesn't exist. Used by the document-manager share adapter to load
// the blob it uploads.
func (s *Store) GetAttachment(id int64) (*model.Attachment, error) {
	row := s.db.QueryRow(`SELECT id, email_id, filename, content_type, content_disposition, content_id, blob_path, favorite, size FROM attachments WHERE id = ?`, id)
	a, err := scanAttachment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// SetAttachmentFavorite records an attachment's favorite flag.
func (s *Store) SetAttachmentFavorite(id int64, favorite bool) error {
	_, err := s.db.Exec(`UPDATE attachments SET favorite = ? WHERE id = ?`, favorite, id)
	return err
}

// AttachmentsForEmail returns every attachment row belonging to an
// email.
func (s *Store) AttachmentsForEmail(emailID int64) ([]model.Attachment, error) {
	rows, err := s.db.Query(`SELECT id, email_id, filename, content_type, content_disposition, content_id, blob_path, favorite, size FROM attachments WHERE email_id = ?`, emailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Attachment
	for rows.Next() {
		var a model.Attachment
		var filename, contentType, disposition, contentID, blobPath sql.NullString
		if err := rows.Scan(&a.ID, &a.EmailID, &filename, &contentType, &disposition, &contentID, &blobPath, &a.Favorite, &a.Size); err != nil {
			return nil, err
		}
		a.Filename = filename.String
		a.ContentType = contentType.String
		a.ContentDisposition = disposition.String
		a.ContentID = contentID.String
		a.BlobPath = blobPath.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAttachment(row *sql.Row) (*model.Attachment, error) {
	var a model.Attachment
	var filename, contentType, disposition, contentID, blobPath sql.NullString
	if err := row.Scan(&a.ID, &a.EmailID, &filename, &contentType, &disposition, &contentID, &blobPath, &a.Favorite, &a.Size); err != nil {
		return nil, err
	}
	a.Filename = filename.String
	a.ContentType = contentType.String
	a.ContentDisposition = disposition.String
	a.ContentID = contentID.String
	a.BlobPath = blobPath.String
	return &a, nil
}

func scanEmail(row *sql.Row) (*model.Email, error) {
	var e model.Email
	var subject, refs, inReplyTo sql.NullString
	var date, created string
	if err := row.Scan(&e.ID, &e.MailboxID, &e.MessageID, &subject, &date, &e.BlobPath, &e.Size, &refs, &inReplyTo, &e.IsSpam, &e.Favorite, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	fillEmail(&e, subject, refs, inReplyTo, date, created)
	return &e, nil
}

func scanEmailRows(rows *sql.Rows) (*model.Email, error) {
	var e model.Email
	var subject, refs, inReplyTo sql.NullString
	var date, created string
	if err := rows.Scan(&e.ID, &e.MailboxID, &e.MessageID, &subject, &date, &e.BlobPath, &e.Size, &refs, &inReplyTo, &e.IsSpam, &e.Favorite, &created); err != nil {
		return nil, err
	}
	fillEmail(&e, subject, refs, inReplyTo, date, created)
	return &e, nil
}

func fillEmail(e *model.Email, subject, refs, inReplyTo sql.NullString, date, created string) {
	e.Subject = subject.String
	e.InReplyTo = inReplyTo.String
	if refs.String != "" {
		e.References = strings.Split(refs.String, " ")
	}
	e.Date = parseRFC3339(date)
	e.CreatedAt = parseRFC3339(created)
}
