package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/acqdocs/internal/model"
	"github.com/sells-group/acqdocs/internal/resilience"
	"github.com/sells-group/acqdocs/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// storeError maps a store failure to a response.
func storeError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("api: store error", zap.String("path", r.URL.Path), zap.Error(err))
	if store.IsUnavailable(err) {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	if s.opts.Breakers == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	// An open circuit degrades the service but the registry still answers.
	status := "ok"
	circuits := make(map[string]string)
	for name, state := range s.opts.Breakers.States() {
		circuits[name] = state.String()
		if state == resilience.CircuitOpen {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "circuits": circuits})
}

func (s *Server) listCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Entries())
}

func (s *Server) generateDocument(w http.ResponseWriter, r *http.Request) {
	program := chi.URLParam(r, "program")
	docType := model.ParseDocumentType(chi.URLParam(r, "type"))
	if _, ok := s.catalog.Lookup(docType); !ok {
		writeError(w, http.StatusBadRequest, "unknown document type "+strconv.Quote(string(docType)))
		return
	}

	job := s.jobs.start(program, docType)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		report, err := s.gen.Run(s.ctx, program, docType)
		s.jobs.finish(job.ID, report, err)
		if err != nil {
			zap.L().Error("api: generation failed",
				zap.String("job_id", job.ID),
				zap.String("program", program),
				zap.String("doc_type", string(docType)),
				zap.Error(err),
			)
			return
		}
		zap.L().Info("api: generation complete",
			zap.String("job_id", job.ID),
			zap.String("document_id", report.DocumentID),
			zap.Int("score", report.FinalScore()),
		)
	}()

	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListByProgram(r.Context(), chi.URLParam(r, "program"))
	if err != nil {
		storeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.DocumentRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) latestDocument(w http.ResponseWriter, r *http.Request) {
	docType := model.ParseDocumentType(chi.URLParam(r, "type"))
	rec, err := s.store.GetLatestByType(r.Context(), chi.URLParam(r, "program"), docType)
	if err != nil {
		storeError(w, r, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "no "+string(docType)+" document for program")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) programMetrics(w http.ResponseWriter, r *http.Request) {
	threshold := s.opts.Threshold
	if v := r.URL.Query().Get("threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "threshold must be an integer between 0 and 100")
			return
		}
		threshold = n
	}

	snap, err := s.metrics.Collect(r.Context(), chi.URLParam(r, "program"), threshold)
	if err != nil {
		storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// document loads the {id} record, writing a 404 when it does not exist.
func (s *Server) document(w http.ResponseWriter, r *http.Request) (*model.DocumentRecord, bool) {
	rec, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		storeError(w, r, err)
		return nil, false
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "document not found")
		return nil, false
	}
	return rec, true
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	if rec, ok := s.document(w, r); ok {
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) getReferrers(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.document(w, r)
	if !ok {
		return
	}
	refs, err := s.store.GetReferrers(r.Context(), rec.ID)
	if err != nil {
		storeError(w, r, err)
		return
	}
	if refs == nil {
		refs = []model.DocumentRecord{}
	}
	writeJSON(w, http.StatusOK, refs)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.document(w, r)
	if !ok {
		return
	}
	report, err := s.store.GetReport(r.Context(), rec.ID)
	if err != nil {
		storeError(w, r, err)
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) getContent(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.document(w, r)
	if !ok {
		return
	}
	text, err := s.store.GetContent(r.Context(), rec.ContentPointer)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "content not found")
			return
		}
		storeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text)) //nolint:errcheck
}
