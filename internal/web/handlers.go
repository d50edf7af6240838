package web

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/attachkit/attachkit/internal/logging"
	"github.com/attachkit/attachkit/internal/storage"
)

// maxMultipartMemory is how much of a multipart body is held in memory
// before spilling to disk.
const maxMultipartMemory = 32 << 20

// handleUploadWhole accepts a complete file in one multipart request and
// creates the attachment record.
func (s *Server) handleUploadWhole(w http.ResponseWriter, r *http.Request) {
	rec, content, ok := s.parseUploadForm(w, r)
	if !ok {
		return
	}
	rec.Size = int64(len(content))

	created, err := s.store.Create(r.Context(), rec, content)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("attachment stored",
		"attachmentID", created.ID,
		"name", created.Name,
		"size", created.Size,
	)
	writeJSON(w, http.StatusCreated, created)
}

// handleFirstChunk creates the attachment record from the first chunk of a
// chunked upload. The declared total size decides when later chunks
// complete the payload.
func (s *Server) handleFirstChunk(w http.ResponseWriter, r *http.Request) {
	rec, content, ok := s.parseUploadForm(w, r)
	if !ok {
		return
	}
	if rec.Size <= 0 {
		respondErrorMessage(w, r, http.StatusBadRequest, "missing or invalid size")
		return
	}

	created, err := s.store.Create(r.Context(), rec, content)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("chunked upload started",
		"attachmentID", created.ID,
		"name", created.Name,
		"declaredSize", created.Size,
		"firstChunk", len(content),
	)
	writeJSON(w, http.StatusCreated, created)
}

// handleChunk appends one chunk to an attachment created by handleFirstChunk.
func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "attachmentID")

	offset, err := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	if err != nil || offset < 0 {
		respondErrorMessage(w, r, http.StatusBadRequest, "missing or invalid offset")
		return
	}

	body := r.Body
	if s.cfg.MaxUploadBytes > 0 {
		body = http.MaxBytesReader(w, body, s.cfg.MaxUploadBytes)
	}
	chunk, err := io.ReadAll(body)
	if err != nil {
		respondError(w, r, err)
		return
	}

	rec, err := s.store.AppendChunk(r.Context(), id, offset, chunk)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if rec.Complete(offset + int64(len(chunk))) {
		logging.FromContext(r.Context()).Info("chunked upload completed",
			"attachmentID", rec.ID,
			"size", rec.Size,
		)
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetAttachment returns an attachment's metadata.
func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), chi.URLParam(r, "attachmentID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetFile serves an attachment's payload. A size query parameter is
// accepted for preview links; variants are not generated, the original
// payload is served for every size.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "attachmentID")

	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	content, err := s.store.Content(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	contentType := rec.Type
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Name))
	w.Write(content)
}

// handleDeleteAttachment removes an attachment, typically an orphan left by
// an unbind on a draft record or a canceled chunked upload.
func (s *Server) handleDeleteAttachment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "attachmentID")

	if err := s.store.Delete(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("attachment deleted", "attachmentID", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeriveAttachments returns the attachment representations of a
// record, for binding an externally selected record into a field.
func (s *Server) handleDeriveAttachments(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListForRecord(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if list == nil {
		list = []storage.Record{}
	}
	writeJSON(w, http.StatusOK, list)
}

// parseUploadForm reads the multipart metadata fields and the file part.
// It writes the error response itself when parsing fails.
func (s *Server) parseUploadForm(w http.ResponseWriter, r *http.Request) (storage.Record, []byte, bool) {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		respondError(w, r, err)
		return storage.Record{}, nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondErrorMessage(w, r, http.StatusBadRequest, "missing file part")
		return storage.Record{}, nil, false
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, err)
		return storage.Record{}, nil, false
	}

	rec := storage.Record{
		Name:        r.FormValue("name"),
		Type:        r.FormValue("type"),
		Role:        r.FormValue("role"),
		Field:       r.FormValue("field"),
		ParentType:  r.FormValue("parentType"),
		RelatedType: r.FormValue("relatedType"),
		ParentID:    r.FormValue("parentId"),
	}
	if rec.Name == "" {
		rec.Name = header.Filename
	}
	if declared := r.FormValue("size"); declared != "" {
		if n, err := strconv.ParseInt(declared, 10, 64); err == nil {
			rec.Size = n
		}
	}

	return rec, content, true
}
