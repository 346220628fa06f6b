package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"convertd/internal/convert"
)

// HealthzResponse is the /healthz payload.
type HealthzResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	ConversionsTotal int64  `json:"conversions_total"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealthz handles GET|HEAD /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:           "ok",
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		ConversionsTotal: s.converter.Completed(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// handleIndex serves the upload page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(indexHTML))
}

// handleConvert handles POST /convert: multipart upload in, PDF out.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		if isBodyTooLarge(err) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		if isBodyTooLarge(err) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "stream interrupted")
		return
	}
	if len(data) == 0 {
		s.writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	result, err := s.converter.Convert(r.Context(), convert.Request{
		Data:     data,
		Filename: header.Filename,
	})
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nothing useful to write.
			s.logger.Debug("conversion abandoned by client", "filename", header.Filename)
			return
		}
		status, msg := statusForError(err)
		s.logger.Error("conversion failed", "filename", header.Filename, "kind", convert.KindOf(err), "error", err)
		s.writeError(w, status, msg)
		return
	}

	// Escape double quotes in the filename to prevent header injection.
	escaped := strings.ReplaceAll(result.Filename, `"`, `\"`)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, escaped))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.PDF)
}

// statusForError maps the conversion taxonomy onto HTTP statuses. Engine-side
// input failures are the client's problem (422); everything else is ours.
func statusForError(err error) (int, string) {
	switch convert.KindOf(err) {
	case convert.KindEngineFailure, convert.KindOutputMissing:
		return http.StatusUnprocessableEntity, "document could not be converted"
	case convert.KindTimeout:
		return http.StatusGatewayTimeout, "conversion timed out"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// writeError writes the JSON error envelope.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}
