package parser

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const plainMessage = "From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@example.com>\r\n" +
	"Cc: carol@example.com\r\n" +
	"Subject: Hello there\r\n" +
	"Message-Id: <abc123@example.com>\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hi Bob,\r\n\r\nSee you soon.\r\n"

func TestParse_PlainTextMessage(t *testing.T) {
	got, err := Parse(testLogger(), []byte(plainMessage), time.Now())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got.MessageID != "<abc123@example.com>" {
		t.Errorf("MessageID = %q, want %q", got.MessageID, "<abc123@example.com>")
	}
	if got.Subject != "Hello there" {
		t.Errorf("Subject = %q, want %q", got.Subject, "Hello there")
	}
	if got.TextBody == "" {
		t.Error("expected non-empty TextBody")
	}
	if got.Date.Year() != 2006 {
		t.Errorf("Date = %v, want year 2006", got.Date)
	}
}

func TestParse_CorrespondentTuples(t *testing.T) {
	got, err := Parse(testLogger(), []byte(plainMessage), time.Now())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	roles := map[string]string{}
	for _, c := range got.Correspondents {
		roles[c.Address] = string(c.Role)
	}

	if roles["alice@example.com"] != "from" {
		t.Errorf("alice role = %q, want from", roles["alice@example.com"])
	}
	if roles["bob@example.com"] != "to" {
		t.Errorf("bob role = %q, want to", roles["bob@example.com"])
	}
	if roles["carol@example.com"] != "cc" {
		t.Errorf("carol role = %q, want cc", roles["carol@example.com"])
	}
}

func TestParse_SpamFlag(t *testing.T) {
	raw := "From: spammer@example.com\r\n" +
		"To: victim@example.com\r\n" +
		"Subject: Buy now\r\n" +
		"X-Spam-Flag: YES\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"buy buy buy\r\n"

	got, err := Parse(testLogger(), []byte(raw), time.Now())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !got.SpamFlagged {
		t.Error("expected SpamFlagged = true")
	}
}

func TestParse_MissingDateFallsBackToFetchTime(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"Subject: no date here\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n"

	fetchTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	got, err := Parse(testLogger(), []byte(raw), fetchTime)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !got.Date.Equal(fetchTime) {
		t.Errorf("Date = %v, want fallback %v", got.Date, fetchTime)
	}
}

func TestParse_MboxSeparatorStripped(t *testing.T) {
	raw := "From alice@example.com Mon Jan  2 15:04:05 2006\r\n" + plainMessage

	got, err := Parse(testLogger(), []byte(raw), time.Now())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.MessageID != "<abc123@example.com>" {
		t.Errorf("MessageID = %q, want %q (mbox separator should be stripped)", got.MessageID, "<abc123@example.com>")
	}
}

func TestParse_AttachmentWithFilename(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"Subject: with attachment\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
		"Content-Type: multipart/mixed; boundary=\"BOUNDARY\"\r\n" +
		"\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"see attached\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain; name=\"notes.txt\"\r\n" +
		"Content-Disposition: attachment; filename=\"notes.txt\"\r\n" +
		"\r\n" +
		"attachment body\r\n" +
		"--BOUNDARY--\r\n"

	got, err := Parse(testLogger(), []byte(raw), time.Now())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.TextBody != "see attached" {
		t.Errorf("TextBody = %q, want %q", got.TextBody, "see attached")
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("len(Attachments) = %d, want 1", len(got.Attachments))
	}
	if got.Attachments[0].Filename != "notes.txt" {
		t.Errorf("Filename = %q, want %q", got.Attachments[0].Filename, "notes.txt")
	}
}
