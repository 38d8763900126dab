package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/onnwee/imgclassify/internal/apierr"
	"github.com/onnwee/imgclassify/internal/logger"
	"github.com/onnwee/imgclassify/internal/metrics"
	"github.com/onnwee/imgclassify/internal/monitor"
)

// maxReportTopN caps the ?top= override.
const maxReportTopN = 1000

// Reporter sweeps stale usage records and ranks the rest in one step.
type Reporter interface {
	SweepAndReport(topN int) (monitor.Report, int)
	Len() int
}

// ReportHandler serves GET /report.
type ReportHandler struct {
	monitor Reporter
	topN    int
}

// NewReportHandler creates a report handler returning topN entries by default.
func NewReportHandler(m Reporter, topN int) *ReportHandler {
	return &ReportHandler{monitor: m, topN: topN}
}

// GetReport sweeps stale records and returns the top-N usage summary.
// An empty report is a 200 carrying {"message": ...}.
// GET /report?top=N
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	topN := h.topN
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxReportTopN {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("top", "'top' must be an integer between 1 and 1000"))
			return
		}
		topN = n
	}

	report := snapshot(h.monitor, topN)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		logger.ErrorContext(r.Context(), "Failed to encode report", "error", err)
	}
}

// snapshot runs a sweep+report and keeps the monitor gauges current.
func snapshot(m Reporter, topN int) monitor.Report {
	report, removed := m.SweepAndReport(topN)
	if removed > 0 {
		metrics.MonitorSweptKeys.Add(float64(removed))
	}
	metrics.MonitorTrackedKeys.Set(float64(m.Len()))
	return report
}
