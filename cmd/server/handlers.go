package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gburachas/arxrag"
)

type handler struct {
	engine arxrag.Engine
}

func newHandler(e arxrag.Engine) *handler {
	return &handler{engine: e}
}

// POST /ingest
// Body: {"ids": ["1706.03762", ...], "skip_references": false}
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req struct {
		IDs            []string `json:"ids"`
		SkipReferences bool     `json:"skip_references,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	var opts []arxrag.IngestOption
	if req.SkipReferences {
		opts = append(opts, arxrag.WithoutReferences())
	}

	results, err := h.engine.Ingest(ctx, req.IDs, opts...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		slog.Error("ingest error", "error", err)
		return
	}

	type itemResult struct {
		ArxivID    string `json:"arxiv_id"`
		DocumentID int64  `json:"document_id,omitempty"`
		Chunks     int    `json:"chunks"`
		References int    `json:"references"`
		Error      string `json:"error,omitempty"`
	}
	out := make([]itemResult, len(results))
	for i, res := range results {
		out[i] = itemResult{
			ArxivID:    res.ArxivID,
			DocumentID: res.DocumentID,
			Chunks:     res.Chunks,
			References: res.References,
		}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": out})
}

// POST /ask
// Body: {"question": "...", "top_k": 5}
func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Question string `json:"question"`
		TopK     int    `json:"top_k,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	var opts []arxrag.AskOption
	if req.TopK > 0 {
		opts = append(opts, arxrag.WithTopK(req.TopK))
	}

	ans, err := h.engine.Ask(ctx, req.Question, opts...)
	if err != nil {
		if errors.Is(err, arxrag.ErrNoResults) {
			writeError(w, http.StatusNotFound, "no matching chunks")
			return
		}
		writeError(w, http.StatusInternalServerError, "query failed")
		slog.Error("ask error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// POST /references/search
// Body: {"query": "...", "top_n": 5, "document_id": 0}
func (h *handler) handleReferenceSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query      string `json:"query"`
		TopN       int    `json:"top_n,omitempty"`
		DocumentID int64  `json:"document_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	refs, err := h.engine.SearchReferences(r.Context(), req.Query, req.TopN, req.DocumentID)
	if err != nil {
		if errors.Is(err, arxrag.ErrIndexUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "reference index unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "reference search failed")
		slog.Error("reference search error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"references": refs})
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing failed")
		slog.Error("list documents error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	if err := h.engine.DeleteDocument(r.Context(), id); err != nil {
		if errors.Is(err, arxrag.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "deletion failed")
		slog.Error("delete document error", "id", id, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": id,
		"note":    "indexes stale until rebuild",
	})
}

// GET /documents/{id}/references/first
func (h *handler) handleFirstReference(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	ref, err := h.engine.FirstReference(r.Context(), id)
	if err != nil {
		if errors.Is(err, arxrag.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		slog.Error("first reference error", "id", id, "error", err)
		return
	}
	if ref == nil {
		writeError(w, http.StatusNotFound, "document has no references")
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// POST /rebuild
// Body: {"target": "chunks"|"references"|"both"}
func (h *handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.Target = ""
	}
	if req.Target == "" {
		req.Target = "both"
	}

	out := map[string]interface{}{}
	if req.Target == "chunks" || req.Target == "both" {
		report, err := h.engine.RebuildChunkIndex(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "chunk rebuild failed")
			slog.Error("rebuild error", "target", "chunks", "error", err)
			return
		}
		out["chunks"] = report
	}
	if req.Target == "references" || req.Target == "both" {
		report, err := h.engine.RebuildReferenceIndex(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "reference rebuild failed")
			slog.Error("rebuild error", "target", "references", "error", err)
			return
		}
		out["references"] = report
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.IndexHealth(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "health check failed")
		slog.Error("health error", "error", err)
		return
	}
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusConflict
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
