package share

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/archivekeep/mailarchiver/internal/httpkit"
)

// DocumentManagerClient posts archived attachments to a user-configured
// document-management endpoint via an HTTP POST of the attachment file
// to a user-configured URL, authenticated with a bearer token.
type DocumentManagerClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewDocumentManagerClient builds a client targeting baseURL, authenticating
// every request with a bearer token. httpClient is expected to come from
// httpkit.NewClient so outbound shares share the process's connection
// pooling and timeout defaults; a nil client falls back to one built
// with httpkit's defaults.
func NewDocumentManagerClient(baseURL, token string, httpClient *http.Client) *DocumentManagerClient {
	if httpClient == nil {
		httpClient = httpkit.NewClient()
	}
	return &DocumentManagerClient{httpClient: httpClient, baseURL: baseURL, token: token}
}

// ShareAttachment uploads one attachment's bytes under its recorded
// filename and content type. It is pure pass-through: a successful POST
// has no effect on archive state.
func (c *DocumentManagerClient) ShareAttachment(ctx context.Context, filename, contentType string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectionError{Err: err}
	}

	body := httpkit.ReadErrorBody(resp.Body, 4096)
	return classifyStatus(resp.StatusCode, body)
}
