package upload

import (
	"fmt"

	"github.com/attachkit/attachkit/internal/attachment"
	"github.com/attachkit/attachkit/internal/fieldstate"
)

// Limits carries the deployment-wide upload bounds.
type Limits struct {
	// GlobalMaxMB is the configured attachment upload cap in megabytes.
	// 0 means unbounded.
	GlobalMaxMB int64

	// AppMaxMB is the application-wide single-request cap in megabytes.
	// It applies only when uploads are unchunked, since chunking keeps every
	// request under the chunk size. 0 means unbounded.
	AppMaxMB int64

	// ChunkSize is the chunk size in bytes. 0 disables chunking.
	ChunkSize int64
}

// EffectiveMaxMB resolves the size cap for one field: the most restrictive
// of the field-level max, the global max, and, only when unchunked, the
// application-wide cap. 0 means no bound applies.
func EffectiveMaxMB(fieldMaxMB int64, lim Limits) int64 {
	max := fieldMaxMB

	tighten := func(bound int64) {
		if bound > 0 && (max == 0 || bound < max) {
			max = bound
		}
	}

	tighten(lim.GlobalMaxMB)
	if lim.ChunkSize == 0 {
		tighten(lim.AppMaxMB)
	}

	return max
}

// validateFile checks one file against the field's size cap and accept
// patterns. A file of exactly the cap passes; one byte over is rejected.
// The check runs before any request is dispatched.
func validateFile(field fieldstate.Field, file File, lim Limits) *attachment.ValidationError {
	if maxMB := EffectiveMaxMB(field.MaxFileSizeMB, lim); maxMB > 0 {
		if file.Size > maxMB*1024*1024 {
			return &attachment.ValidationError{
				Field:   field.Name,
				File:    file.Name,
				Message: fmt.Sprintf("exceeds maximum file size of %d MB", maxMB),
			}
		}
	}

	if !attachment.MatchesAccept(file.Name, file.Type, field.Accept) {
		return &attachment.ValidationError{
			Field:   field.Name,
			File:    file.Name,
			Message: "file type is not accepted",
		}
	}

	return nil
}
