package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/attachkit/attachkit/internal/attachment"
)

// APIClient talks to the storage endpoint for the non-transfer operations:
// deriving attachments from an existing record and deleting orphans.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a client for the endpoint at baseURL. A nil client
// falls back to a default with a request timeout.
func NewAPIClient(baseURL string, client *http.Client) *APIClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &APIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

// DeriveAttachments fetches the attachment representations of a record that
// is not itself an attachment.
func (c *APIClient) DeriveAttachments(ctx context.Context, recordID string) ([]attachment.Attachment, error) {
	u := c.baseURL + "/api/records/" + url.PathEscape(recordID) + "/attachments"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, fmt.Errorf("deriving attachments: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deriving attachments: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &attachment.TransferError{Op: "derive", Status: resp.StatusCode}
	}

	var list []attachment.Attachment
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("deriving attachments: decoding response: %w", err)
	}
	return list, nil
}

// DeleteAttachment removes an attachment record from the remote store.
// Deleting an attachment that no longer exists is not an error.
func (c *APIClient) DeleteAttachment(ctx context.Context, id string) error {
	u := c.baseURL + "/api/attachments/" + url.PathEscape(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("deleting attachment: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("deleting attachment: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &attachment.TransferError{Op: "delete", Status: resp.StatusCode}
	}
	return nil
}
