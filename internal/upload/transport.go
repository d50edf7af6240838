package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/attachkit/attachkit/internal/attachment"
)

// Options carries the per-transfer callbacks and the cancellation handshake.
type Options struct {
	// OnProgress is invoked after each accepted request with the cumulative
	// bytes sent. Counts are strictly increasing for one transfer.
	OnProgress func(bytesSent int64)

	// OnAttachmentPersisted is invoked once the remote store has assigned an
	// identity, before the transfer finishes. Lets the caller clean up a
	// partially persisted attachment after cancellation.
	OnAttachmentPersisted func(att *attachment.Attachment)

	// Mediator, when set, is consulted before every dispatch.
	Mediator *Mediator
}

// Transport moves one file's bytes to the remote storage endpoint.
type Transport interface {
	// Upload transfers file and returns the persisted attachment. meta
	// supplies the metadata the endpoint records (role, field, parent
	// linkage). A transfer stopped by the mediator returns ErrCanceled.
	Upload(ctx context.Context, file File, meta attachment.Attachment, opts Options) (*attachment.Attachment, error)
}

// HTTPTransport implements Transport against the HTTP storage endpoint.
//
// When ChunkSize is zero or the file fits in one chunk, the whole file goes
// up as a single multipart request. Otherwise chunks are dispatched strictly
// sequentially: the first chunk creates the attachment record and every
// later chunk carries the assigned id and its byte offset.
type HTTPTransport struct {
	baseURL   string
	client    *http.Client
	chunkSize int64
}

// NewHTTPTransport creates a transport for the endpoint at baseURL. A zero
// chunkSize disables chunking. A nil client falls back to a default with a
// request timeout.
func NewHTTPTransport(baseURL string, chunkSize int64, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPTransport{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		client:    client,
		chunkSize: chunkSize,
	}
}

func (t *HTTPTransport) Upload(ctx context.Context, file File, meta attachment.Attachment, opts Options) (*attachment.Attachment, error) {
	if canceled(opts.Mediator) {
		return nil, attachment.ErrCanceled
	}

	if t.chunkSize > 0 && file.Size > t.chunkSize {
		return t.uploadChunked(ctx, file, meta, opts)
	}
	return t.uploadWhole(ctx, file, meta, opts)
}

func (t *HTTPTransport) uploadWhole(ctx context.Context, file File, meta attachment.Attachment, opts Options) (*attachment.Attachment, error) {
	body, contentType, err := multipartBody(meta, file.Name, file.Content)
	if err != nil {
		return nil, &attachment.TransferError{Op: "upload", Err: err}
	}

	att, err := t.post(ctx, "/api/attachments", contentType, body, "upload")
	if err != nil {
		return nil, err
	}

	persisted(opts, att)
	progress(opts, file.Size)
	return att, nil
}

func (t *HTTPTransport) uploadChunked(ctx context.Context, file File, meta attachment.Attachment, opts Options) (*attachment.Attachment, error) {
	buf := make([]byte, t.chunkSize)

	var att *attachment.Attachment
	var sent int64

	for sent < file.Size {
		if canceled(opts.Mediator) {
			return att, attachment.ErrCanceled
		}

		n := t.chunkSize
		if remaining := file.Size - sent; remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(file.Content, buf[:n]); err != nil {
			return att, &attachment.TransferError{Op: "chunk", Err: fmt.Errorf("reading file: %w", err)}
		}

		if att == nil {
			created, err := t.postFirstChunk(ctx, meta, file.Name, buf[:n])
			if err != nil {
				return nil, err
			}
			att = created
			persisted(opts, att)
		} else {
			if err := t.postChunk(ctx, att.ID, sent, buf[:n]); err != nil {
				return att, err
			}
		}

		sent += n
		progress(opts, sent)
	}

	return att, nil
}

// postFirstChunk creates the attachment record. The response assigns the id
// every later chunk is addressed to.
func (t *HTTPTransport) postFirstChunk(ctx context.Context, meta attachment.Attachment, fileName string, chunk []byte) (*attachment.Attachment, error) {
	body, contentType, err := multipartBody(meta, fileName, bytes.NewReader(chunk))
	if err != nil {
		return nil, &attachment.TransferError{Op: "chunk", Err: err}
	}
	return t.post(ctx, "/api/attachments/chunk", contentType, body, "chunk")
}

func (t *HTTPTransport) postChunk(ctx context.Context, id string, offset int64, chunk []byte) error {
	u := t.baseURL + "/api/attachments/" + url.PathEscape(id) + "/chunk?offset=" + strconv.FormatInt(offset, 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(chunk))
	if err != nil {
		return &attachment.TransferError{Op: "chunk", Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return &attachment.TransferError{Op: "chunk", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &attachment.TransferError{Op: "chunk", Status: resp.StatusCode}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, path, contentType string, body io.Reader, op string) (*attachment.Attachment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, body)
	if err != nil {
		return nil, &attachment.TransferError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &attachment.TransferError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &attachment.TransferError{Op: op, Status: resp.StatusCode}
	}

	var att attachment.Attachment
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		return nil, &attachment.TransferError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return &att, nil
}

// multipartBody builds the metadata fields plus the payload part the
// endpoint expects.
func multipartBody(meta attachment.Attachment, fileName string, content io.Reader) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"name":        fileName,
		"type":        meta.Type,
		"size":        strconv.FormatInt(meta.Size, 10),
		"role":        meta.Role,
		"field":       meta.Field,
		"parentType":  meta.ParentType,
		"relatedType": meta.RelatedType,
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := w.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}

	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, w.FormDataContentType(), nil
}

func canceled(m *Mediator) bool {
	return m != nil && m.Canceled()
}

func progress(opts Options, n int64) {
	if opts.OnProgress != nil {
		opts.OnProgress(n)
	}
}

func persisted(opts Options, att *attachment.Attachment) {
	if opts.OnAttachmentPersisted != nil {
		opts.OnAttachmentPersisted(att)
	}
}
