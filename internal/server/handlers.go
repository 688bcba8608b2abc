package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tonimelisma/acctsync/internal/store"
	isync "github.com/tonimelisma/acctsync/internal/sync"
	"github.com/tonimelisma/acctsync/internal/syncerr"
)

// SyncRequest is the body of POST /api/sync/:entityType. No ids means pop
// the oldest pending record of that type.
type SyncRequest struct {
	IDs []string `json:"ids"`
}

// SyncResult is the per-entity outcome in a SyncResponse.
type SyncResult struct {
	EntityID    string `json:"entity_id"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	ErrorType   string `json:"errorType,omitempty"`
	Message     string `json:"message,omitempty"`
	ProviderRef string `json:"provider_ref,omitempty"`
	Cached      bool   `json:"cached,omitempty"`
}

// SyncResponse is the body returned by the sync triggers.
type SyncResponse struct {
	Success bool         `json:"success"`
	Results []SyncResult `json:"results"`
}

// RecordView is the status badge payload for one sync record.
type RecordView struct {
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	Provider     string         `json:"provider"`
	Status       string         `json:"status"`
	ProviderRef  string         `json:"provider_ref,omitempty"`
	ProviderMeta map[string]any `json:"provider_meta,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorType    string         `json:"error_type,omitempty"`
	Retries      int            `json:"retries"`
	LastSyncedAt *time.Time     `json:"last_synced_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// syncBatch handles POST /api/sync/:entityType.
func (s *Server) syncBatch(c *gin.Context) {
	entityType, ok := s.entityType(c)
	if !ok {
		return
	}

	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if len(req.IDs) > s.cfg.MaxBatch {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many ids in one request"})
		return
	}

	actorID := c.GetString(actorKey)
	ctx := c.Request.Context()

	resp := SyncResponse{Success: true, Results: []SyncResult{}}

	if len(req.IDs) == 0 {
		out, found, err := s.syncer.SyncNext(ctx, actorID, entityType)
		if found || err != nil {
			resp.Results = append(resp.Results, ResultFor(out.Key.ID, out, err))
		}
	} else {
		for _, id := range req.IDs {
			if id == "" {
				resp.Results = append(resp.Results, SyncResult{
					EntityID:  id,
					Error:     "empty entity id",
					ErrorType: syncerr.CategoryCustomerError,
					Message:   syncerr.UserMessage(syncerr.CategoryCustomerError),
				})
				continue
			}

			out, err := s.syncer.Sync(ctx, actorID, s.syncer.Key(entityType, id))
			resp.Results = append(resp.Results, ResultFor(id, out, err))
		}
	}

	for _, r := range resp.Results {
		if !r.Success {
			resp.Success = false
		}
	}

	c.JSON(http.StatusOK, resp)
}

// retryOne handles POST /api/sync/:entityType/:id/retry, the manual retrigger
// behind the UI retry action.
func (s *Server) retryOne(c *gin.Context) {
	entityType, ok := s.entityType(c)
	if !ok {
		return
	}

	id := c.Param("id")
	out, err := s.syncer.Sync(c.Request.Context(), c.GetString(actorKey), s.syncer.Key(entityType, id))
	res := ResultFor(id, out, err)

	c.JSON(http.StatusOK, SyncResponse{Success: res.Success, Results: []SyncResult{res}})
}

// status handles GET /api/sync/:entityType/:id. Records owned by another
// actor read as not found.
func (s *Server) status(c *gin.Context) {
	entityType, ok := s.entityType(c)
	if !ok {
		return
	}

	rec, err := s.records.GetRecord(c.Request.Context(), s.syncer.Key(entityType, c.Param("id")))
	if errors.Is(err, store.ErrNotFound) || (err == nil && rec.ActorID != c.GetString(actorKey)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "sync record not found"})
		return
	}

	if err != nil {
		s.logger.Error("reading sync record", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})

		return
	}

	c.JSON(http.StatusOK, ViewOf(rec))
}

func (s *Server) entityType(c *gin.Context) (store.EntityType, bool) {
	t, err := store.ParseEntityType(c.Param("entityType"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}

	return t, true
}

// ResultFor converts one sync call into its response entry. The error
// category comes from the persisted outcome when there is one.
func ResultFor(id string, out isync.Outcome, err error) SyncResult {
	if err == nil {
		return SyncResult{
			EntityID:    id,
			Success:     true,
			ProviderRef: out.ProviderRef,
			Cached:      out.Cached,
		}
	}

	category := out.ErrorType
	if category == "" {
		category = syncerr.Category(err)
	}

	if errors.Is(err, isync.ErrUnknownType) {
		category = syncerr.CategoryCustomerError
	}

	return SyncResult{
		EntityID:  id,
		Error:     err.Error(),
		ErrorType: category,
		Message:   syncerr.UserMessage(category),
	}
}

// ViewOf renders a sync record for the status badge.
func ViewOf(rec *store.SyncRecord) RecordView {
	v := RecordView{
		EntityType:   string(rec.Type),
		EntityID:     rec.ID,
		Provider:     rec.Provider,
		Status:       string(rec.Status),
		ProviderRef:  rec.ProviderRef,
		ProviderMeta: rec.ProviderMeta,
		ErrorMessage: rec.ErrorMessage,
		ErrorType:    rec.ErrorType,
		Retries:      rec.Retries,
		UpdatedAt:    rec.UpdatedAt.UTC(),
	}

	if !rec.LastSyncedAt.IsZero() {
		t := rec.LastSyncedAt.UTC()
		v.LastSyncedAt = &t
	}

	return v
}
