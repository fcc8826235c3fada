package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"clinsum"
	"clinsum/composer"
	"clinsum/extract"
	"clinsum/render"
	"clinsum/report"
	"clinsum/store"
)

type handler struct {
	engine  *clinsum.Engine
	store   *store.Store
	extract *extract.Registry
}

func newHandler(e *clinsum.Engine, s *store.Store, r *extract.Registry) *handler {
	return &handler{engine: e, store: s, extract: r}
}

// POST /summarize
// Accepts multipart file upload or JSON with file path. Runs the full
// retry cycle, persists the run, and returns the delivered summary with
// its verdict.
func (h *handler) handleSummarize(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	path, filename, cleanup, ok := h.resolveInput(w, r)
	if !ok {
		return
	}
	defer cleanup()

	doc, err := h.extract.ExtractFile(ctx, path)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "text extraction failed")
		slog.Error("extraction error", "path", path, "error", err)
		return
	}

	res, err := h.engine.Summarize(ctx, doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "summarization failed")
		slog.Error("summarize error", "filename", filename, "error", err)
		return
	}

	runID, err := h.persistRun(ctx, filename, doc, res)
	if err != nil {
		// The summary was produced; losing the audit row is logged but not
		// surfaced as a request failure.
		slog.Error("persisting run", "filename", filename, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":       runID,
		"filename":     filename,
		"state":        res.State,
		"needs_review": res.NeedsReview,
		"verdict":      res.Verdict,
		"summary":      res.Summary,
		"markdown":     render.Markdown(res.Summary),
	})
}

// resolveInput accepts either a multipart upload (saved to a temp file)
// or a JSON body naming an existing file.
func (h *handler) resolveInput(w http.ResponseWriter, r *http.Request) (path, filename string, cleanup func(), ok bool) {
	cleanup = func() {}

	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			// Sanitise filename to prevent path traversal. Only the
			// extension carries over to the temp file, so concurrent
			// uploads of the same filename never collide; the extractor
			// registry dispatches on the extension.
			safeName := filepath.Base(header.Filename)

			dst, err := os.CreateTemp("", "upload-*"+filepath.Ext(safeName))
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("creating temp file", "error", err)
				return "", "", cleanup, false
			}
			tmpPath := dst.Name()
			if _, err := io.Copy(dst, file); err != nil {
				dst.Close()
				os.Remove(tmpPath)
				writeError(w, http.StatusInternalServerError, "failed to save file")
				slog.Error("saving uploaded file", "error", err)
				return "", "", cleanup, false
			}
			dst.Close()
			return tmpPath, safeName, func() { os.Remove(tmpPath) }, true
		}
	}

	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
		return "", "", cleanup, false
	}

	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return "", "", cleanup, false
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return "", "", cleanup, false
	}
	return absPath, filepath.Base(absPath), cleanup, true
}

func (h *handler) persistRun(ctx context.Context, filename string, doc clinsum.SourceDocument, res *clinsum.Result) (int64, error) {
	summaryJSON, err := json.Marshal(res.Summary)
	if err != nil {
		return 0, fmt.Errorf("encoding summary: %w", err)
	}

	run := store.Run{
		Filename:       filename,
		Format:         strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."),
		Pages:          doc.PageCount,
		SourceChars:    doc.Len(),
		State:          string(res.State),
		Passed:         res.Verdict.Passed,
		NeedsReview:    res.NeedsReview,
		BestAttempt:    res.BestAttempt,
		Composite:      res.Verdict.Composite,
		LengthScore:    res.Verdict.LengthScore,
		AlignmentScore: res.Verdict.AlignmentScore,
		RetryCount:     res.Verdict.RetryCount,
		SummaryJSON:    string(summaryJSON),
		Markdown:       render.Markdown(res.Summary),
	}

	attempts := make([]store.Attempt, 0, len(res.Attempts))
	for _, a := range res.Attempts {
		attempts = append(attempts, store.Attempt{
			Number:         a.Number,
			TargetSize:     a.Params.Target,
			MaxSize:        a.Params.Max,
			OverlapSize:    a.Params.Overlap,
			Chunks:         a.Chunks,
			Degraded:       a.Degraded,
			Composite:      a.Verdict.Composite,
			LengthScore:    a.Verdict.LengthScore,
			AlignmentScore: a.Verdict.AlignmentScore,
			Passed:         a.Verdict.Passed,
			ElapsedMS:      a.Elapsed.Milliseconds(),
		})
	}

	return h.store.LogRun(ctx, run, attempts)
}

// GET /runs
func (h *handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	var (
		runs []store.Run
		err  error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		runs, err = h.store.SearchRuns(r.Context(), q, limit)
	} else {
		runs, err = h.store.ListRuns(r.Context(), limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		slog.Error("list runs error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// GET /runs/{id}
func (h *handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	run, err := h.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load run")
		slog.Error("get run error", "run_id", id, "error", err)
		return
	}

	attempts, err := h.store.GetAttempts(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load attempts")
		slog.Error("get attempts error", "run_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":      run,
		"attempts": attempts,
	})
}

// GET /runs/{id}/preview
// Renders the stored summary as HTML for in-browser review.
func (h *handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	run, err := h.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load run")
		slog.Error("preview error", "run_id", id, "error", err)
		return
	}

	var sum composer.Summary
	if err := json.Unmarshal([]byte(run.SummaryJSON), &sum); err != nil {
		writeError(w, http.StatusInternalServerError, "stored summary is unreadable")
		slog.Error("preview decode error", "run_id", id, "error", err)
		return
	}

	html, err := render.HTML(sum)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rendering failed")
		slog.Error("preview render error", "run_id", id, "error", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, html)
}

// GET /review
func (h *handler) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := h.store.ReviewQueue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load review queue")
		slog.Error("review queue error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queue": queue})
}

// POST /review/{id}/resolve
func (h *handler) handleResolveReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Reviewer string `json:"reviewer"`
		Note     string `json:"note,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Reviewer == "" {
		writeError(w, http.StatusBadRequest, "reviewer is required")
		return
	}

	err := h.store.MarkReviewed(r.Context(), id, req.Reviewer, req.Note)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no pending review for that run")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "resolve failed")
		slog.Error("resolve review error", "run_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// GET /review/export
// Streams the pending review queue as an XLSX workbook.
func (h *handler) handleExportReview(w http.ResponseWriter, r *http.Request) {
	queue, err := h.store.ReviewQueue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load review queue")
		slog.Error("export review error", "error", err)
		return
	}

	f, err := report.ReviewQueueWorkbook(queue)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "building workbook failed")
		slog.Error("export workbook error", "error", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="review_queue.xlsx"`)
	if _, err := f.WriteTo(w); err != nil {
		slog.Error("streaming workbook", "error", err)
	}
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"stats":  stats,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
