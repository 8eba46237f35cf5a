package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/lead-qualifier/internal/checks"
	"github.com/sells-group/lead-qualifier/internal/filter"
	"github.com/sells-group/lead-qualifier/internal/jobs"
	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
	"github.com/sells-group/lead-qualifier/internal/store"
)

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		unavailable(w, "dispatcher")
		return
	}
	var req jobs.Request
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	job, err := s.deps.Dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	f := store.JobFilter{Status: model.JobStatus(r.URL.Query().Get("status"))}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, resilience.NewValidationError("status", "unknown job status %q", f.Status))
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, resilience.NewValidationError("limit", "not a number"))
			return
		}
		f.Limit = n
	}
	list, err := s.deps.Store.ListJobs(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.BatchJob{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) jobAudit(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.Store.ListAudit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []model.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reaper == nil {
		unavailable(w, "reaper")
		return
	}
	res, err := s.deps.Reaper.Cleanup(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingester == nil {
		unavailable(w, "callback ingestion")
		return
	}
	if secret := s.deps.WebhookSecret; secret != "" {
		got := r.Header.Get(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			writeError(w, &resilience.AuthError{Err: errBadSecret})
			return
		}
	}
	var cb model.Callback
	if err := decode(w, r, &cb); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.deps.Ingester.IngestCallback(r.Context(), cb)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	e, err := s.deps.Store.GetEntity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) entityChecks(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Store.ListChecks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.CheckResult{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) aggregate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Aggregator == nil {
		unavailable(w, "aggregator")
		return
	}
	id := chi.URLParam(r, "id")
	run := s.deps.Aggregator.Aggregate
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		run = s.deps.Aggregator.Refresh
	}
	res, err := run(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status model.QualificationStatus `json:"status"`
	}
	if err := decode(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	if !body.Status.IsHuman() {
		writeError(w, resilience.NewValidationError("status", "%q cannot be set by hand", body.Status))
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.UpdateEntityStatus(r.Context(), id, body.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "qualification_status": string(body.Status)})
}

type suppressionRequest struct {
	Name      string `json:"name"`
	Reason    string `json:"reason"`
	CreatedBy string `json:"created_by"`
}

// suppress accepts one record or a list.
func (s *Server) suppress(w http.ResponseWriter, r *http.Request) {
	var body struct {
		suppressionRequest
		Records []suppressionRequest `json:"records"`
	}
	if err := decode(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	reqs := body.Records
	if len(reqs) == 0 {
		reqs = []suppressionRequest{body.suppressionRequest}
	}

	recs := make([]model.SuppressionRecord, 0, len(reqs))
	for _, req := range reqs {
		rec, err := filter.NewSuppression(req.Name, req.Reason, req.CreatedBy)
		if err != nil {
			writeError(w, err)
			return
		}
		recs = append(recs, rec)
	}
	n, err := s.deps.Store.ImportSuppressions(r.Context(), recs)
	if err != nil {
		writeError(w, err)
		return
	}
	keys := make([]string, len(recs))
	for i := range recs {
		keys[i] = recs[i].Key
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": n, "keys": keys})
}

type checkRequest struct {
	Subject  string   `json:"subject"`
	Domains  []string `json:"domains,omitempty"`
	Website  string   `json:"website,omitempty"`
	EntityID string   `json:"entity_id,omitempty"`
}

func (s *Server) runCheck(w http.ResponseWriter, r *http.Request) {
	if s.deps.Suite == nil {
		unavailable(w, "checkers")
		return
	}
	c, err := s.deps.Suite.ForType(model.CheckType(chi.URLParam(r, "type")))
	if err != nil {
		writeError(w, err)
		return
	}
	var req checkRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Subject == "" {
		writeError(w, resilience.NewValidationError("subject", "required"))
		return
	}

	hints := checks.Hints{Domains: req.Domains, Website: req.Website}
	if req.EntityID != "" {
		hints.EntityID = &req.EntityID
	}
	res := c.Check(r.Context(), req.Subject, hints)
	if res.Error == resilience.KindStorage {
		writeError(w, resilience.NewStorageError("server: record check", errCheckNotRecorded))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
