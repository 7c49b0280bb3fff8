package archive

import (
	"database/sql"
	"time"

	"github.com/archivekeep/mailarchiver/internal/model"
)

const correspondentColumns = `id, owner_id, address, display_name, real_name, favorite,
	list_id, list_owner, list_subscribe, list_unsubscribe, list_post, list_help, list_archive, list_unsubscribe_post,
	created_at, updated_at`

// GetCorrespondent loads a correspondent row by id.
func (s *Store) GetCorrespondent(id int64) (*model.Correspondent, error) {
	row := s.db.QueryRow(`SELECT `+correspondentColumns+` FROM correspondents WHERE id = ?`, id)
	return scanCorrespondent(row)
}

// ListCorrespondentsByOwner returns every correspondent an owner has
// ever exchanged mail with, used by the contact-server export adapter.
func (s *Store) ListCorrespondentsByOwner(ownerID string) ([]model.Correspondent, error) {
	rows, err := s.db.Query(`SELECT `+correspondentColumns+` FROM correspondents WHERE owner_id = ? ORDER BY address`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Correspondent
	for rows.Next() {
		c, err := scanCorrespondentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetCorrespondentFavorite records a correspondent's favorite flag.
func (s *Store) SetCorrespondentFavorite(id int64, favorite bool) error {
	_, err := s.db.Exec(`UPDATE correspondents SET favorite = ?, updated_at = ? WHERE id = ?`, favorite, timeToRFC3339(time.Now()), id)
	return err
}

// SetCorrespondentRealName records the user-supplied real name, which
// parsed header data never overwrites (spec §3: "optional user-supplied
// real name" is distinct from the header-captured display name).
func (s *Store) SetCorrespondentRealName(id int64, realName string) error {
	_, err := s.db.Exec(`UPDATE correspondents SET real_name = ?, updated_at = ? WHERE id = ?`, realName, timeToRFC3339(time.Now()), id)
	return err
}

// UpdateCorrespondentListServ records the List-* headers observed on a
// mailing-list correspondent.
func (s *Store) UpdateCorrespondentListServ(id int64, l model.ListServ) error {
	_, err := s.db.Exec(`
		UPDATE correspondents SET
			list_id = ?, list_owner = ?, list_subscribe = ?, list_unsubscribe = ?,
			list_post = ?, list_help = ?, list_archive = ?, list_unsubscribe_post = ?,
			updated_at = ?
		WHERE id = ?`,
		l.ID, l.Owner, l.Subscribe, l.Unsubscribe, l.Post, l.Help, l.Archive, l.UnsubscribePost,
		timeToRFC3339(time.Now()), id)
	return err
}

// CorrespondentsForEmail returns every correspondent tied to an email,
// alongside the role(s) they played, used by both export and the
// vCard/contact-server adapter.
func (s *Store) CorrespondentsForEmail(emailID int64) ([]model.EmailCorrespondent, error) {
	rows, err := s.db.Query(`SELECT email_id, correspondent_id, role FROM email_correspondents WHERE email_id = ?`, emailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EmailCorrespondent
	for rows.Next() {
		var ec model.EmailCorrespondent
		var role string
		if err := rows.Scan(&ec.EmailID, &ec.CorrespondentID, &role); err != nil {
			return nil, err
		}
		ec.Role = model.CorrespondentRole(role)
		out = append(out, ec)
	}
	return out, rows.Err()
}

func scanCorrespondent(row *sql.Row) (*model.Correspondent, error) {
	var c model.Correspondent
	var displayName, realName sql.NullString
	var listID, listOwner, listSub, listUnsub, listPost, listHelp, listArchive, listUnsubPost sql.NullString
	var created, updated string
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Address, &displayName, &realName, &c.Favorite,
		&listID, &listOwner, &listSub, &listUnsub, &listPost, &listHelp, &listArchive, &listUnsubPost,
		&created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	fillCorrespondent(&c, displayName, realName, listID, listOwner, listSub, listUnsub, listPost, listHelp, listArchive, listUnsubPost, created, updated)
	return &c, nil
}

func scanCorrespondentRows(rows *sql.Rows) (*model.Correspondent, error) {
	var c model.Correspondent
	var displayName, realName sql.NullString
	var listID, listOwner, listSub, listUnsub, listPost, listHelp, listArchive, listUnsubPost sql.NullString
	var created, updated string
	if err := rows.Scan(&c.ID, &c.OwnerID, &c.Address, &displayName, &realName, &c.Favorite,
		&listID, &listOwner, &listSub, &listUnsub, &listPost, &listHelp, &listArchive, &listUnsubPost,
		&created, &updated); err != nil {
		return nil, err
	}
	fillCorrespondent(&c, displayName, realName, listID, listOwner, listSub, listUnsub, listPost, listHelp, listArchive, listUnsubPost, created, updated)
	return &c, nil
}

func fillCorrespondent(c *model.Correspondent, displayName, realName, listID, listOwner, listSub, listUnsub, listPost, listHelp, listArchive, listUnsubPost sql.NullString, created, updated string) {
	c.DisplayName = displayName.String
	c.RealName = realName.String
	c.ListServ = model.ListServ{
		ID:              listID.String,
		Owner:           listOwner.String,
		Subscribe:       listSub.String,
		Unsubscribe:     listUnsub.String,
		Post:            listPost.String,
		Help:            listHelp.String,
		Archive:         listArchive.String,
		UnsubscribePost: listUnsubPost.String,
	}
	c.CreatedAt = parseRFC3339(created)
	c.UpdatedAt = parseRFC3339(updated)
}
