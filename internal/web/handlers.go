package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/ingest/internal/core"
)

// defaultRecordLimit is used when ?limit is absent.
const defaultRecordLimit = 100

// targetInfo is the public view of a target.
type targetInfo struct {
	Key     string      `json:"key"`
	Label   string      `json:"label"`
	Table   string      `json:"table"`
	Strict  bool        `json:"strict"`
	Columns []fieldInfo `json:"columns"`
}

type fieldInfo struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Values   []string `json:"values,omitempty"`
}

func describeTarget(def core.TargetDefinition) targetInfo {
	info := targetInfo{
		Key:    def.Key,
		Label:  def.Label,
		Table:  def.Table,
		Strict: def.Schema.Strict,
	}
	for _, f := range def.Schema.Fields {
		info.Columns = append(info.Columns, fieldInfo{
			Name:     f.Name,
			Type:     f.Type.String(),
			Required: f.Required,
			Values:   f.EnumValues,
		})
	}
	return info
}

// handleListTargets returns every registered target with its columns.
func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	defs := s.service.Targets()
	out := make([]targetInfo, 0, len(defs))
	for _, def := range defs {
		out = append(out, describeTarget(def))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleImport streams an uploaded CSV (multipart field "file") into a target.
// The body is never buffered whole; the multipart reader feeds the pipeline
// directly.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	if _, err := core.Lookup(target); err != nil {
		respondError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrNoFile, err))
		return
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			respondError(w, r, uploadError(err))
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		name := part.FileName()
		if name == "" {
			name = "upload.csv"
		}
		ctx := withRequestMetadata(r.Context(), r)
		res, err := s.service.Import(ctx, target, name, part, 0)
		part.Close()
		if err != nil {
			respondError(w, r, uploadError(err))
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
}

// uploadError maps multipart and size failures onto the core error kinds.
func uploadError(err error) error {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return fmt.Errorf("%w: limit %d bytes", core.ErrFileTooLarge, maxErr.Limit)
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: no \"file\" part in form", core.ErrNoFile)
	default:
		return err
	}
}

// handleImportFile imports a file already present in the imports directory.
func (s *Server) handleImportFile(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	name := chi.URLParam(r, "name")

	ctx := withRequestMetadata(r.Context(), r)
	res, err := s.service.ImportFile(ctx, target, name)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRecentRecords returns the newest stored records of a target.
func (s *Server) handleRecentRecords(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")

	limit := defaultRecordLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "limit must be a positive integer",
				Message: "limit must be a positive integer",
				Code:    "REQ001",
			})
			return
		}
		limit = n
	}

	rows, err := s.service.Recent(r.Context(), target, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"target":  target,
		"count":   len(rows),
		"records": rows,
	})
}

// handleRuns returns recent run summaries, newest first.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.History())
}

// handleStatus reports import concurrency and registered targets.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"imports": s.service.LimiterStatus(),
		"targets": core.Count(),
		"driver":  s.cfg.Sink.Driver,
	})
}

// handleHealth pings every opened sink.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
