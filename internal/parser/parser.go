// Package parser decodes raw RFC 5322 message bytes into a ParsedEmail:
// normalized headers, plain/HTML bodies, attachments, correspondent
// tuples, the spam flag, and the references graph. Grounded on
// internal/email/read.go's parseBody, which tolerates IsUnknownCharset
// errors from go-message rather than failing the parse.
package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"

	"github.com/archivekeep/mailarchiver/internal/model"
)

// maxAttachmentSize bounds how much of any single part is buffered in
// memory during parsing; the archive writer streams larger payloads to
// the blob store by path, but the parser itself works in memory.
const maxAttachmentSize = 64 * 1024 * 1024

// CorrespondentTuple is one address pulled from a header field, tagged
// with the role it played (From, To, Cc, ...).
type CorrespondentTuple struct {
	Role        model.CorrespondentRole
	Address     string
	DisplayName string
}

// ParsedAttachment is one MIME part classified as an attachment: either
// it carries a filename, or it is an inline part with a Content-ID.
type ParsedAttachment struct {
	Filename    string
	ContentType string // maintype/subtype
	Disposition string
	ContentID   string // with angle brackets preserved, e.g. "<abc@host>"
	Data        []byte
}

// ParsedEmail is the normalized result of parsing one message's raw
// bytes, ready for the archive writer to persist.
type ParsedEmail struct {
	MessageID     string
	Subject       string
	Date          time.Time
	TextBody      string
	HTMLBody      string
	Headers       Multimap
	SpamFlagged   bool
	Correspondents []CorrespondentTuple
	Attachments   []ParsedAttachment
	References    []string
	InReplyTo     []string
	ListServ      model.ListServ
	Size          int64
}

// Multimap keeps every value of a header, keyed by lowercased header
// name, since some senders emit the same header twice (e.g. duplicate
// Received or Resent-From lines); the values of one name stay in the
// order their lines appear. The relative order of different header
// names is not kept.
type Multimap map[string][]string

func (m Multimap) add(key, value string) {
	key = strings.ToLower(key)
	m[key] = append(m[key], value)
}

// Get returns the first value for key, if any.
func (m Multimap) Get(key string) string {
	vals := m[strings.ToLower(key)]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// stripMboxSeparator removes a leading MBOX "From " envelope separator
// line, if present, before handing the bytes to the MIME decoder — mbox
// readers (codec/mbox.go) should already strip this, but raw bytes
// arriving via Fetcher.Restore's counterpart (import) may not have.
func stripMboxSeparator(raw []byte) []byte {
	if !bytes.HasPrefix(raw, []byte("From ")) {
		return raw
	}
	idx := bytes.IndexByte(raw, '\n')
	if idx < 0 {
		return raw
	}
	return raw[idx+1:]
}

// Parse decodes raw RFC 5322 bytes into a ParsedEmail. Fetch time is used
// as the Date fallback when neither the Date header nor any Received
// header yields a timestamp.
func Parse(logger *slog.Logger, raw []byte, fetchTime time.Time) (*ParsedEmail, error) {
	raw = stripMboxSeparator(raw)

	headers, err := readHeaders(raw)
	if err != nil {
		return nil, fmt.Errorf("read headers: %w", err)
	}

	result := &ParsedEmail{
		Headers: headers,
		Size:    int64(len(raw)),
	}

	result.MessageID = normalizeMessageID(headers.Get("message-id"))
	result.Subject = decodeHeaderWord(headers.Get("subject"))
	result.Date = resolveDate(headers, fetchTime)
	result.SpamFlagged = isSpamFlagged(headers)
	result.Correspondents = extractCorrespondents(headers)
	result.References = splitMsgIDList(headers.Get("references"))
	result.InReplyTo = splitMsgIDList(headers.Get("in-reply-to"))
	result.ListServ = extractListServ(headers)

	if err := walkParts(logger, raw, result); err != nil {
		return nil, fmt.Errorf("walk MIME parts: %w", err)
	}

	return result, nil
}

// readHeaders parses just the header block into a Multimap
// using net/mail, which preserves duplicate header lines in its
// underlying textproto.MIMEHeader the way go-message does not expose
// directly at the top level.
func readHeaders(raw []byte) (Multimap, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		// net/mail is stricter about malformed top lines than go-message;
		// fall back to a manual scan so a slightly broken message still
		// yields a best-effort header map instead of failing outright.
		return readHeadersLoose(raw), nil
	}

	result := Multimap{}
	for key, values := range msg.Header {
		for _, v := range values {
			result.add(key, v)
		}
	}
	return result, nil
}

// readHeadersLoose scans "Key: value" lines up to the first blank line,
// honoring RFC 5322 header folding (continuation lines start with
// whitespace).
func readHeadersLoose(raw []byte) Multimap {
	result := Multimap{}
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var curKey, curVal string
	flush := func() {
		if curKey != "" {
			result.add(curKey, strings.TrimSpace(curVal))
		}
	}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		if (line[0] == ' ' || line[0] == '\t') && curKey != "" {
			curVal += " " + strings.TrimSpace(line)
			continue
		}
		flush()
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			curKey = ""
			continue
		}
		curKey = line[:idx]
		curVal = line[idx+1:]
	}
	flush()
	return result
}

func normalizeMessageID(raw string) string {
	return strings.TrimSpace(raw)
}

func decodeHeaderWord(raw string) string {
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func splitMsgIDList(raw string) []string {
	if raw == "" {
		return nil
	}
	fields := strings.Fields(raw)
	var ids []string
	for _, f := range fields {
		ids = append(ids, f)
	}
	return ids
}

// resolveDate parses the Date header, falling back to the earliest
// Received-header timestamp, and finally to fetchTime — always
// converted to UTC.
func resolveDate(headers Multimap, fetchTime time.Time) time.Time {
	if raw := headers.Get("date"); raw != "" {
		if t, err := mail.ParseDate(raw); err == nil {
			return t.UTC()
		}
	}

	var earliest time.Time
	for _, received := range headers["received"] {
		idx := strings.LastIndex(received, ";")
		if idx < 0 {
			continue
		}
		stamp := strings.TrimSpace(received[idx+1:])
		t, err := mail.ParseDate(stamp)
		if err != nil {
			continue
		}
		t = t.UTC()
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	if !earliest.IsZero() {
		return earliest
	}

	return fetchTime.UTC()
}

// isSpamFlagged reports whether any X-Spam-Flag header token equals
// "YES", case-insensitively.
func isSpamFlagged(headers Multimap) bool {
	for _, v := range headers["x-spam-flag"] {
		if strings.EqualFold(strings.TrimSpace(v), "YES") {
			return true
		}
	}
	return false
}

var correspondentHeaders = []struct {
	header string
	role   model.CorrespondentRole
}{
	{"from", model.RoleFrom},
	{"to", model.RoleTo},
	{"cc", model.RoleCc},
	{"bcc", model.RoleBcc},
	{"reply-to", model.RoleReplyTo},
	{"sender", model.RoleSender},
	{"return-path", model.RoleReturnPath},
	{"x-envelope-to", model.RoleEnvelopeTo},
}

// extractListServ captures the RFC 2369/2919 List-* headers, present
// when a message was sent through a mailing-list manager. Zero value if
// none of the List-Id/List-Owner/... headers are present.
func extractListServ(headers Multimap) model.ListServ {
	return model.ListServ{
		ID:              headers.Get("list-id"),
		Owner:           headers.Get("list-owner"),
		Subscribe:       headers.Get("list-subscribe"),
		Unsubscribe:     headers.Get("list-unsubscribe"),
		Post:            headers.Get("list-post"),
		Help:            headers.Get("list-help"),
		Archive:         headers.Get("list-archive"),
		UnsubscribePost: headers.Get("list-unsubscribe-post"),
	}
}

func extractCorrespondents(headers Multimap) []CorrespondentTuple {
	var result []CorrespondentTuple
	for _, spec := range correspondentHeaders {
		for _, raw := range headers[spec.header] {
			addrs, err := mail.ParseAddressList(raw)
			if err != nil {
				// Return-Path is frequently "<>" (the null reverse path),
				// which net/mail rejects; treat it as address-less rather
				// than a parse failure.
				continue
			}
			for _, a := range addrs {
				result = append(result, CorrespondentTuple{
					Role:        spec.role,
					Address:     strings.ToLower(a.Address),
					DisplayName: a.Name,
				})
			}
		}
	}
	return result
}

// walkParts descends the MIME tree via go-message/mail.Reader, filling
// in TextBody/HTMLBody (first occurrence at any depth, since
// multipart/alternative containers must be descended into) and
// Attachments. A part is an attachment if it has a filename or, being
// inline, carries a Content-ID; the two top-level body parts are never
// attachments even if they happen to have a Content-ID (rare, but some
// mail clients set one on the HTML alternative).
func walkParts(logger *slog.Logger, raw []byte, out *ParsedEmail) error {
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return fmt.Errorf("create mail reader: %w", err)
	}
	if reader == nil {
		return fmt.Errorf("create mail reader returned nil")
	}
	if err != nil {
		logger.Debug("mail reader created with charset warning", "error", err)
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !gomessage.IsUnknownCharset(err) {
			logger.Debug("skipping malformed MIME part", "error", err)
			continue
		}
		if part == nil {
			continue
		}
		if err != nil {
			logger.Debug("part has charset warning", "error", err)
		}

		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			contentType, params, _ := h.ContentType()
			contentID := h.Get("Content-Id")
			filename, _ := h.Filename()

			if filename != "" || (contentID != "" && !isTopLevelBody(out, contentType)) {
				data, err := io.ReadAll(io.LimitReader(part.Body, maxAttachmentSize))
				if err != nil {
					logger.Debug("error reading inline attachment", "error", err)
					continue
				}
				out.Attachments = append(out.Attachments, ParsedAttachment{
					Filename:    filename,
					ContentType: contentType,
					Disposition: "inline",
					ContentID:   contentID,
					Data:        data,
				})
				continue
			}

			switch {
			case contentType == "text/plain" && out.TextBody == "":
				body, err := io.ReadAll(part.Body)
				if err != nil {
					logger.Debug("error reading text/plain part", "error", err)
					continue
				}
				out.TextBody = strings.TrimSpace(decodeWithFallback(body, params["charset"]))

			case contentType == "text/html" && out.HTMLBody == "":
				body, err := io.ReadAll(part.Body)
				if err != nil {
					logger.Debug("error reading text/html part", "error", err)
					continue
				}
				out.HTMLBody = strings.TrimSpace(decodeWithFallback(body, params["charset"]))
			}

		case *gomail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			disposition, _, _ := h.ContentDisposition()
			contentID := h.Get("Content-Id")

			data, err := io.ReadAll(io.LimitReader(part.Body, maxAttachmentSize))
			if err != nil {
				logger.Debug("error reading attachment", "error", err)
				continue
			}
			out.Attachments = append(out.Attachments, ParsedAttachment{
				Filename:    filename,
				ContentType: contentType,
				Disposition: disposition,
				ContentID:   contentID,
				Data:        data,
			})
		}
	}

	return nil
}

// isTopLevelBody reports whether the field slot a Content-ID-bearing
// inline part would fill (text/plain or text/html) is still empty; if
// so it's treated as a body, not an attachment, even though it carries
// a Content-ID.
func isTopLevelBody(out *ParsedEmail, contentType string) bool {
	switch contentType {
	case "text/plain":
		return out.TextBody == ""
	case "text/html":
		return out.HTMLBody == ""
	}
	return false
}

// decodeWithFallback is a defensive pass over body bytes already
// decoded by go-message's charset-aware Reader: go-message's
// CharsetReader already performs the conversion to UTF-8, but when a
// declared charset is unrecognized it returns the bytes unconverted
// alongside an IsUnknownCharset error the caller already tolerated — in
// that case we confirm the bytes are valid UTF-8 and replace invalid
// sequences rather than surface garbled text.
func decodeWithFallback(body []byte, _ string) string {
	if utf8.Valid(body) {
		return string(body)
	}
	return strings.ToValidUTF8(string(body), "�")
}
