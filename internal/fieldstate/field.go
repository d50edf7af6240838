// Package fieldstate owns the field-level attachment state: the single-value
// slots (id/name/type) for "file" fields and the parallel collections
// (ids, names-by-id, types-by-id) for "attachment-multiple" fields.
//
// All mutation goes through Store methods so that the three slots or
// collections always change together. Callers never receive the backing
// collections, only copies.
package fieldstate

// Kind distinguishes the two attachment field variants.
type Kind int

const (
	// SingleFile holds at most one attachment (field type "file").
	SingleFile Kind = iota

	// MultiFile holds an ordered list of attachments
	// (field type "attachmentMultiple").
	MultiFile
)

// Field describes an attachment field on a record: its identity plus the
// upload configuration exposed to this subsystem.
type Field struct {
	// Name is the field name, unique within the owning record type.
	Name string

	Kind Kind

	// RecordType is the entity type of the owning record. It is sent as
	// relatedType (single) or parentType (multi) with each upload.
	RecordType string

	// MaxFileSizeMB caps individual file size in megabytes. 0 means no
	// field-level bound; global bounds still apply.
	MaxFileSizeMB int64

	// Accept lists accepted MIME patterns and extensions, HTML-accept style.
	// Empty accepts everything.
	Accept []string

	// Required marks the field as mandatory for record submission.
	Required bool

	// ShowPreviews enables image previews in the rendering layer. It is
	// carried here because it is part of the field configuration contract
	// but is not consumed by the upload pipeline itself.
	ShowPreviews bool
}
