package share

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/emersion/go-vcard"

	"github.com/archivekeep/mailarchiver/internal/httpkit"
	"github.com/archivekeep/mailarchiver/internal/model"
)

// ContactServerClient shares archived correspondents with a user-configured
// contact server as vCard 3.0 payloads, via an HTTP PUT of a single
// correspondent (or a batch) as a vCard 3.0 stream under basic auth.
type ContactServerClient struct {
	httpClient       *http.Client
	baseURL          string
	username, passwd string
}

// NewContactServerClient builds a client targeting baseURL, authenticating
// with HTTP basic auth. A nil httpClient falls back to httpkit's defaults.
func NewContactServerClient(baseURL, username, password string, httpClient *http.Client) *ContactServerClient {
	if httpClient == nil {
		httpClient = httpkit.NewClient()
	}
	return &ContactServerClient{httpClient: httpClient, baseURL: baseURL, username: username, passwd: password}
}

// ShareCorrespondent PUTs a single correspondent as a vCard 3.0 stream.
func (c *ContactServerClient) ShareCorrespondent(ctx context.Context, correspondent model.Correspondent) error {
	return c.ShareCorrespondents(ctx, []model.Correspondent{correspondent})
}

// ShareCorrespondents PUTs a batch of correspondents as a single vCard
// 3.0 stream (multiple vcards concatenated, as go-vcard's encoder
// writes them one after another).
func (c *ContactServerClient) ShareCorrespondents(ctx context.Context, correspondents []model.Correspondent) error {
	var buf bytes.Buffer
	enc := vcard.NewEncoder(&buf)
	for _, co := range correspondents {
		if err := enc.Encode(toVCard(co)); err != nil {
			return fmt.Errorf("encode vcard for %s: %w", co.Address, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.passwd)
	req.Header.Set("Content-Type", "text/vcard; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectionError{Err: err}
	}

	body := httpkit.ReadErrorBody(resp.Body, 4096)
	return classifyStatus(resp.StatusCode, body)
}

// toVCard builds a minimal vCard 3.0 card from a Correspondent: the
// address and display name are all the archive ever learns about a
// contact from headers alone.
func toVCard(co model.Correspondent) vcard.Card {
	card := make(vcard.Card)
	name := co.DisplayName
	if name == "" {
		name = co.Address
	}
	card.SetValue(vcard.FieldFormattedName, name)
	card.AddValue(vcard.FieldEmail, co.Address)
	vcard.ToV3(card)
	return card
}
