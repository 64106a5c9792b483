package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/crm-cleanse/internal/credential"
	"github.com/sells-group/crm-cleanse/internal/model"
	"github.com/sells-group/crm-cleanse/internal/pipeline"
	"github.com/sells-group/crm-cleanse/internal/store"
	"github.com/sells-group/crm-cleanse/pkg/hubspot"
	"github.com/sells-group/crm-cleanse/pkg/metering"
)

const maxBodyBytes = 1 << 20

type mergeRequest struct {
	Company            model.CompanyRecord `json:"company"`
	RecordID           string              `json:"recordId"`
	DuplicateRules     string              `json:"duplicateRules"`
	PrimaryRules       string              `json:"primaryRules"`
	MergeRules         string              `json:"mergeRules"`
	MergePropertyRules map[string]string   `json:"mergePropertyRules"`
	MergeRecord        bool                `json:"mergeRecord"`
}

type cleanRequest struct {
	Company      model.CompanyRecord `json:"company"`
	RecordID     string              `json:"recordId"`
	CleanRules   string              `json:"cleanRules"`
	UpdateRecord bool                `json:"updateRecord"`
}

type purgeRequest struct {
	Company       model.CompanyRecord `json:"company"`
	RecordID      string              `json:"recordId"`
	PurgeRules    string              `json:"purgeRules"`
	ArchiveRecord bool                `json:"archiveRecord"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if !s.validateRecord(w, r, req.Company, req.RecordID) {
		return
	}

	crm, ok := s.crmForRequest(w, r)
	if !ok {
		return
	}
	access, ok := s.checkAccess(w, r, metering.MeterMerge)
	if !ok {
		return
	}
	if !s.verifyRecordExists(w, r, crm, req.RecordID) {
		return
	}

	rules := s.rules.Merge(model.RuleSet{
		DuplicateRules:     req.DuplicateRules,
		PrimaryRules:       req.PrimaryRules,
		MergeRules:         req.MergeRules,
		MergePropertyRules: req.MergePropertyRules,
	})

	started := time.Now()
	result, err := s.newRunner(crm).Merge(r.Context(), pipeline.MergeRequest{
		Company:     req.Company,
		RecordID:    req.RecordID,
		Rules:       rules,
		MergeRecord: req.MergeRecord,
	})

	// Completed stages are billed even when a later stage or a store
	// write failed; the model calls happened and are not refunded.
	if result != nil && result.CreditCost > 0 {
		s.trackUsage(r.Context(), metering.MeterMerge, result.CreditCost)
	}

	if err != nil {
		s.recordRun(r.Context(), model.RunKindMerge, req.RecordID, started, mergeOutcome(result), err)
		s.writePipelineError(w, r, err)
		return
	}

	if access != nil {
		result.CreditsRemaining = access.Remaining - result.CreditCost
	}
	s.recordRun(r.Context(), model.RunKindMerge, req.RecordID, started, mergeOutcome(result), nil)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	var req cleanRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if !s.validateRecord(w, r, req.Company, req.RecordID) {
		return
	}

	crm, ok := s.crmForRequest(w, r)
	if !ok {
		return
	}
	if _, ok := s.checkAccess(w, r, metering.MeterClean); !ok {
		return
	}
	if !s.verifyRecordExists(w, r, crm, req.RecordID) {
		return
	}

	started := time.Now()
	result, err := s.newRunner(crm).Clean(r.Context(), pipeline.CleanRequest{
		Company:      req.Company,
		RecordID:     req.RecordID,
		Rules:        s.rules.Merge(model.RuleSet{CleanRules: req.CleanRules}),
		UpdateRecord: req.UpdateRecord,
	})

	if result != nil && result.CreditCost > 0 {
		s.trackUsage(r.Context(), metering.MeterClean, result.CreditCost)
	}

	if err != nil {
		s.recordRun(r.Context(), model.RunKindClean, req.RecordID, started, cleanOutcome(result), err)
		s.writePipelineError(w, r, err)
		return
	}

	s.recordRun(r.Context(), model.RunKindClean, req.RecordID, started, cleanOutcome(result), nil)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if !s.validateRecord(w, r, req.Company, req.RecordID) {
		return
	}

	crm, ok := s.crmForRequest(w, r)
	if !ok {
		return
	}
	if _, ok := s.checkAccess(w, r, metering.MeterPurge); !ok {
		return
	}
	if !s.verifyRecordExists(w, r, crm, req.RecordID) {
		return
	}

	started := time.Now()
	result, err := s.newRunner(crm).Purge(r.Context(), pipeline.PurgeRequest{
		Company:       req.Company,
		RecordID:      req.RecordID,
		Rules:         s.rules.Merge(model.RuleSet{PurgeRules: req.PurgeRules}),
		ArchiveRecord: req.ArchiveRecord,
	})

	if result != nil && result.CreditCost > 0 {
		s.trackUsage(r.Context(), metering.MeterPurge, result.CreditCost)
	}

	if err != nil {
		s.recordRun(r.Context(), model.RunKindPurge, req.RecordID, started, purgeOutcome(result), err)
		s.writePipelineError(w, r, err)
		return
	}

	s.recordRun(r.Context(), model.RunKindPurge, req.RecordID, started, purgeOutcome(result), nil)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, r, http.StatusNotFound, "run audit trail is not enabled")
		return
	}

	filter := store.RunFilter{
		Kind:     model.RunKind(r.URL.Query().Get("kind")),
		Status:   model.RunStatus(r.URL.Query().Get("status")),
		RecordID: r.URL.Query().Get("recordId"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("list runs", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, r, http.StatusNotFound, "run audit trail is not enabled")
		return
	}

	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// decodeBody enforces the JSON content type and decodes into dst. A false
// return means the error response has already been written.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		writeError(w, r, http.StatusBadRequest, "content type must be application/json")
		return false
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func (s *Server) validateRecord(w http.ResponseWriter, r *http.Request, company model.CompanyRecord, recordID string) bool {
	if recordID == "" {
		writeError(w, r, http.StatusBadRequest, "recordId is required")
		return false
	}
	if err := company.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// crmForRequest detects the caller's CRM credential header and builds a
// client for that provider.
func (s *Server) crmForRequest(w http.ResponseWriter, r *http.Request) (hubspot.Client, bool) {
	cred, err := credential.Detect(r.Header)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "missing CRM credential header")
		return nil, false
	}
	crm, err := credential.StoreFor(cred, s.crmOpts...)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return crm, true
}

// checkAccess gates the request on the credit ledger. It returns nil access
// with ok=true when metering is disabled.
func (s *Server) checkAccess(w http.ResponseWriter, r *http.Request, meterKey string) (*metering.Access, bool) {
	if s.meter == nil {
		return nil, true
	}

	access, err := s.meter.CheckAccess(r.Context(), userID(r.Context()), meterKey)
	if err != nil {
		zap.L().Error("check access", zap.Error(err), zap.String("meter", meterKey))
		writeError(w, r, http.StatusInternalServerError, "credit check failed")
		return nil, false
	}
	if !access.Allowed {
		writeError(w, r, http.StatusPaymentRequired, "insufficient credits")
		return nil, false
	}
	return access, true
}

func (s *Server) verifyRecordExists(w http.ResponseWriter, r *http.Request, crm hubspot.Client, recordID string) bool {
	exists, err := crm.Exists(r.Context(), recordID)
	if err != nil {
		zap.L().Error("verify record", zap.Error(err), zap.String("record_id", recordID))
		writeError(w, r, http.StatusInternalServerError, "record store lookup failed")
		return false
	}
	if !exists {
		writeError(w, r, http.StatusNotFound, "record not found")
		return false
	}
	return true
}

func (s *Server) trackUsage(ctx context.Context, meterKey string, amount int) {
	if s.meter == nil {
		return
	}
	if err := s.meter.TrackUsage(ctx, userID(ctx), meterKey, amount); err != nil {
		// Never fail the request over a deduction that will be retried
		// out of band; the run itself already happened.
		zap.L().Error("track usage", zap.Error(err), zap.String("meter", meterKey), zap.Int("amount", amount))
	}
}

// writePipelineError maps a pipeline failure to a sanitized status. The raw
// upstream detail is logged, never echoed to the caller.
func (s *Server) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("pipeline failed",
		zap.Error(err),
		zap.String("request_id", middleware.GetReqID(r.Context())))

	switch {
	case pipeline.IsInferenceError(err):
		writeError(w, r, http.StatusInternalServerError, "inference stage failed")
	case hubspot.IsTimeout(err):
		writeError(w, r, http.StatusInternalServerError, "record store timed out")
	default:
		writeError(w, r, http.StatusInternalServerError, "record store operation failed")
	}
}

// outcome carries what the audit trail needs from any pipeline result.
type outcome struct {
	result      any
	creditCost  int
	totalTokens int
	costUSD     float64
}

func mergeOutcome(res *model.MergeResult) outcome {
	if res == nil {
		return outcome{}
	}
	return outcome{res, res.CreditCost, res.Usage.Total.TotalTokens, res.Usage.Total.CostUSD}
}

func cleanOutcome(res *model.CleanResult) outcome {
	if res == nil {
		return outcome{}
	}
	return outcome{res, res.CreditCost, res.Usage.Total.TotalTokens, res.Usage.Total.CostUSD}
}

func purgeOutcome(res *model.PurgeResult) outcome {
	if res == nil {
		return outcome{}
	}
	return outcome{res, res.CreditCost, res.Usage.Total.TotalTokens, res.Usage.Total.CostUSD}
}

// recordRun persists the audit-trail row. Persistence failures are logged
// and never surfaced; the caller already has their result.
func (s *Server) recordRun(ctx context.Context, kind model.RunKind, recordID string, started time.Time, out outcome, runErr error) {
	if s.runs == nil {
		return
	}

	run := &model.RunRecord{
		Kind:        kind,
		RecordID:    recordID,
		Status:      model.RunStatusComplete,
		CreditCost:  out.creditCost,
		TotalTokens: out.totalTokens,
		CostUSD:     out.costUSD,
		CreatedAt:   started,
		CompletedAt: time.Now().UTC(),
	}
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
	} else if out.result != nil {
		data, err := json.Marshal(out.result)
		if err != nil {
			zap.L().Error("marshal run result", zap.Error(err))
		} else {
			run.Result = data
		}
	}

	if err := s.runs.CreateRun(ctx, run); err != nil {
		zap.L().Error("persist run", zap.Error(err), zap.String("record_id", recordID))
	}
}
