// Package attachment defines the attachment record as the client sees it,
// along with the error taxonomy for the upload pipeline and helpers for
// building preview/download links.
//
// An attachment exists transiently on the client until its upload completes
// and a field references it. The remote store assigns the ID once the first
// chunk (or the whole file, if unchunked) is accepted.
package attachment

import (
	"net/url"
	"path/filepath"
	"strings"
)

// RoleAttachment is the role assigned to records created by a field upload.
const RoleAttachment = "Attachment"

// Attachment is the client-side view of a remote attachment record.
// ID is empty until the remote store has accepted the first request.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`

	// Role is always RoleAttachment for field uploads.
	Role string `json:"role,omitempty"`

	// Field is the name of the field the attachment is being uploaded for.
	Field string `json:"field,omitempty"`

	// ParentType is set for multi-value fields, RelatedType for single-value
	// fields. Both name the entity type of the owning record.
	ParentType  string `json:"parentType,omitempty"`
	RelatedType string `json:"relatedType,omitempty"`
}

// Persisted reports whether the remote store has assigned an identity.
func (a *Attachment) Persisted() bool {
	return a.ID != ""
}

// MatchesAccept reports whether a file name/MIME type pair satisfies any of
// the given accept patterns. Patterns follow the HTML accept attribute:
// a file extension (".pdf"), a full MIME type ("application/pdf"), or a
// wildcard MIME type ("image/*"). An empty pattern list accepts everything.
func MatchesAccept(name, mimeType string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}

	ext := strings.ToLower(filepath.Ext(name))
	mimeType = strings.ToLower(mimeType)

	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}

		if strings.HasPrefix(p, ".") {
			if p == ext {
				return true
			}
			continue
		}

		if suffix, ok := strings.CutSuffix(p, "/*"); ok {
			if strings.HasPrefix(mimeType, suffix+"/") {
				return true
			}
			continue
		}

		if p == mimeType {
			return true
		}
	}

	return false
}

// URLBuilder constructs preview and download links for attachments.
// PortalID, when set, is appended to every link as a tenant qualifier.
type URLBuilder struct {
	BasePath string
	PortalID string
}

// PreviewURL returns the link to an image preview of the attachment.
// size selects a server-side variant ("small", "medium", "large") and may be
// empty for the original.
func (b URLBuilder) PreviewURL(id, size string) string {
	q := url.Values{}
	if size != "" {
		q.Set("size", size)
	}
	return b.fileURL(id, q)
}

// DownloadURL returns the link to the raw attachment payload.
func (b URLBuilder) DownloadURL(id string) string {
	return b.fileURL(id, url.Values{})
}

func (b URLBuilder) fileURL(id string, q url.Values) string {
	if b.PortalID != "" {
		q.Set("portalId", b.PortalID)
	}

	u := strings.TrimSuffix(b.BasePath, "/") + "/api/attachments/" + url.PathEscape(id) + "/file"
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}
