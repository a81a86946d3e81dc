package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fibudget/internal/core"
	"fibudget/internal/export"
	applog "fibudget/internal/log"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleRollup returns the aggregated subtree as JSON.
func (s *Server) handleRollup(w http.ResponseWriter, r *http.Request) {
	req, err := ParseRollupParams(r.URL.Query())
	if err != nil {
		s.fail(w, r, applog.OpRollup, err)
		return
	}
	rollup, err := s.budget.Rollup(r.Context(), req)
	if err != nil {
		s.fail(w, r, applog.OpRollup, err)
		return
	}
	OK(rollup).Write(w)
}

func (s *Server) handleLineItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := s.budget.LineItems(r.Context(), sanitizeInput(q.Get("path")), sanitizeInput(q.Get("version")))
	if err != nil {
		s.fail(w, r, applog.OpList, err)
		return
	}
	if items == nil {
		items = []core.LineItem{}
	}
	OK(map[string]any{"items": items}).Write(w)
}

// handleSaveBudget distributes and stores a budget entry, answering with the
// resulting period values.
func (s *Server) handleSaveBudget(w http.ResponseWriter, r *http.Request) {
	body, err := ParseSaveBudget(w, r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	req := body.Request()
	values, err := s.budget.SaveBudget(r.Context(), req)
	if err != nil {
		s.fail(w, r, applog.OpUpdate, err)
		return
	}

	OK(map[string]any{
		"line_item_id": req.LineItemID,
		"periods":      values,
		"total":        values.Total(),
	}).Write(w)
}

// handleComputeZeroBased previews a zero-based entry without saving it.
func (s *Server) handleComputeZeroBased(w http.ResponseWriter, r *http.Request) {
	var body ZeroBasedBody
	if err := DecodeJSONBody(w, r, &body); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	OK(s.budget.ComputeZeroBased(body.Items)).Write(w)
}

// handleRollupExport streams the rollup as an XLSX workbook.
func (s *Server) handleRollupExport(w http.ResponseWriter, r *http.Request) {
	req, err := ParseRollupParams(r.URL.Query())
	if err != nil {
		s.fail(w, r, applog.OpExport, err)
		return
	}
	rollup, err := s.budget.Rollup(r.Context(), req)
	if err != nil {
		s.fail(w, r, applog.OpExport, err)
		return
	}

	f, err := export.WriteRollup(rollup)
	if err != nil {
		s.fail(w, r, applog.OpExport, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=\"%s\"", exportFilename(rollup.Root.Path, req.Version, s.now())))
	if err := f.Write(w); err != nil {
		// Headers are gone; the client sees a truncated file.
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to write export",
			applog.FieldError, err,
			applog.FieldLedgerPath, rollup.Root.Path)
		return
	}
	s.appMetrics.exports.Add(1)
}

// handleRollupStream sends a rollup event for every change of the selection
// until the client goes away.
func (s *Server) handleRollupStream(w http.ResponseWriter, r *http.Request) {
	req, err := ParseRollupParams(r.URL.Query())
	if err != nil {
		s.fail(w, r, applog.OpRollup, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalServerError("streaming not supported").Write(w)
		return
	}

	ctx := r.Context()
	updates, err := s.budget.Watch(ctx, req)
	if err != nil {
		s.fail(w, r, applog.OpRollup, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.appMetrics.activeStreams.Add(1)
	defer s.appMetrics.activeStreams.Add(-1)

	heartbeat := time.NewTicker(s.streamHeartbeat)
	defer heartbeat.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case rollup, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(rollup)
			if err != nil {
				applog.FromContext(ctx).ErrorContext(ctx, "Failed to encode rollup event", applog.FieldError, err)
				return
			}
			seq++
			fmt.Fprintf(w, "id: %d\nevent: rollup\ndata: %s\n\n", seq, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
