package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/agentstation/zenginsync"
	"github.com/agentstation/zenginsync/internal/server/response"
	"github.com/agentstation/zenginsync/pkg/errors"
	"github.com/agentstation/zenginsync/pkg/logging"
	"github.com/agentstation/zenginsync/pkg/zengin"
)

// DetectRequest is the optional body of POST /api/v1/detections.
type DetectRequest struct {
	DryRun bool `json:"dry_run"`
}

// DetectResponse describes a detection pass.
type DetectResponse struct {
	Outcome      string        `json:"outcome"`
	RunID        string        `json:"run_id,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	TotalChanges int           `json:"total_changes"`
	Counts       zengin.Counts `json:"counts"`
	MessageTS    string        `json:"message_ts,omitempty"`
	PayloadKey   string        `json:"diffs_s3_key,omitempty"`
	SkipReason   string        `json:"skip_reason,omitempty"`
}

func newDetectResponse(r *zenginsync.DetectResult) DetectResponse {
	resp := DetectResponse{
		Outcome:    r.Outcome,
		RunID:      r.RunID,
		Counts:     r.Counts(),
		MessageTS:  r.MessageTS,
		PayloadKey: r.PayloadKey,
		SkipReason: r.SkipReason,
	}
	if r.Batch != nil {
		resp.Summary = r.Batch.Summary
		resp.TotalChanges = r.Batch.TotalChanges
	}
	return resp
}

// HandleDetect handles POST /api/v1/detections.
func (h *Handlers) HandleDetect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		response.ErrorFromType(w, err)
		return
	}

	result, err := h.client.Detect(r.Context(), zenginsync.WithDryRun(req.DryRun))
	if err != nil {
		logging.FromContext(r.Context()).Error().Err(err).Msg("Detection failed")
		response.ErrorFromType(w, err)
		return
	}
	response.OK(w, newDetectResponse(result))
}

// HandleExecute handles POST /api/v1/executions. The batch is applied
// before the response is written.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req zengin.ExecutionRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		response.ErrorFromType(w, err)
		return
	}

	result, err := h.client.Execute(r.Context(), req)
	switch {
	case err != nil && result != nil:
		// the run was marked failed with a system error result
		logging.FromContext(r.Context()).Error().Err(err).Str("run_id", req.DiffID).Msg("Execution failed")
		response.JSON(w, http.StatusInternalServerError, response.Response{
			Data:  result,
			Error: &response.Error{Code: "EXECUTION_FAILED", Message: "Execution failed", Details: result.Details},
		})
	case err != nil:
		response.ErrorFromType(w, err)
	default:
		response.OK(w, result)
	}
}

// HandleGetRun handles GET /api/v1/runs/{id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := h.client.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	response.OK(w, rec)
}

// HandleExportRun handles GET /api/v1/runs/{id}/export and streams the CSV
// export of the run's full batch.
func (h *Handlers) HandleExportRun(w http.ResponseWriter, r *http.Request) {
	file, err := h.client.Export(r.Context(), r.PathValue("id"))
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+file.Name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Content)
}

// decodeOptional decodes a JSON body into v. An empty body leaves v unchanged.
func decodeOptional(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, maxActionBody))
	if err != nil {
		return errors.WrapIO("read", "request body", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.WrapParse("json", "request body", err)
	}
	return nil
}
