package adminhttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ex-mimic/internal/archive"
	"ex-mimic/internal/mimic"
)

const snapshotContentType = "application/msgpack"

type statsResponse struct {
	UptimeSeconds            float64 `json:"uptime_seconds"`
	SinceLastSnapshotSeconds float64 `json:"since_last_snapshot_seconds"`
	Scopes                   int     `json:"scopes"`
	Utterances               int     `json:"utterances"`
	Whitelisted              int     `json:"whitelisted"`
	Blacklisted              int     `json:"blacklisted"`
	Moderators               int     `json:"moderators"`
}

type recordResponse struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Size      int64  `json:"size"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.coordinator.Stats()
	writeJSON(w, http.StatusOK, statsResponse{
		UptimeSeconds:            stats.Uptime.Seconds(),
		SinceLastSnapshotSeconds: stats.SinceLastSnapshot.Seconds(),
		Scopes:                   stats.Scopes,
		Utterances:               stats.Utterances,
		Whitelisted:              stats.Whitelisted,
		Blacklisted:              stats.Blacklisted,
		Moderators:               stats.Moderators,
	})
}

func (s *Server) handleScopes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.Scopes())
}

func (s *Server) handleScope(w http.ResponseWriter, r *http.Request) {
	info, err := s.coordinator.ScopeInfo(mimic.ScopeID(chi.URLParam(r, "scope")))
	if errors.Is(err, mimic.ErrUnknownScope) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, "scope info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSnapshotDownload(w http.ResponseWriter, r *http.Request) {
	blob, err := s.coordinator.Snapshot()
	if err != nil {
		s.internalError(w, r, "snapshot", err)
		return
	}
	writeBlob(w, blob)
}

func (s *Server) handleSnapshotRestore(w http.ResponseWriter, r *http.Request) {
	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSnapshotBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	s.restore(w, r, blob)
}

func (s *Server) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	records, err := s.archive.List(r.Context())
	if err != nil {
		s.internalError(w, r, "archive list", err)
		return
	}

	response := make([]recordResponse, 0, len(records))
	for _, record := range records {
		response = append(response, toRecordResponse(record))
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleArchivePut(w http.ResponseWriter, r *http.Request) {
	blob, err := s.coordinator.Snapshot()
	if err != nil {
		s.internalError(w, r, "snapshot", err)
		return
	}
	record, err := s.archive.Put(r.Context(), blob)
	if err != nil {
		s.internalError(w, r, "archive put", err)
		return
	}
	s.logger.InfoContext(r.Context(), "snapshot archived via admin api", "record", record.ID, "size", record.Size)
	writeJSON(w, http.StatusCreated, toRecordResponse(record))
}

func (s *Server) handleArchiveGet(w http.ResponseWriter, r *http.Request) {
	blob, ok := s.archivedBlob(w, r)
	if !ok {
		return
	}
	writeBlob(w, blob)
}

func (s *Server) handleArchiveRestore(w http.ResponseWriter, r *http.Request) {
	blob, ok := s.archivedBlob(w, r)
	if !ok {
		return
	}
	s.restore(w, r, blob)
}

func (s *Server) archivedBlob(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	blob, err := s.archive.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, archive.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	if err != nil {
		s.internalError(w, r, "archive get", err)
		return nil, false
	}

	return blob, true
}

func (s *Server) restore(w http.ResponseWriter, r *http.Request, blob []byte) {
	if err := s.coordinator.Restore(blob); err != nil {
		if errors.Is(err, mimic.ErrDeserialization) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, r, "restore", err)
		return
	}
	s.logger.InfoContext(r.Context(), "state restored via admin api", "size", len(blob))
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	s.logger.ErrorContext(r.Context(), "admin request failed", "operation", operation, "error", err)
	writeError(w, http.StatusInternalServerError, fmt.Sprintf("%s failed", operation))
}

func toRecordResponse(record archive.Record) recordResponse {
	return recordResponse{
		ID:        record.ID,
		CreatedAt: record.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		Size:      record.Size,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeBlob(w http.ResponseWriter, blob []byte) {
	w.Header().Set("Content-Type", snapshotContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}
