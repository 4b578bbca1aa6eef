package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/haasonsaas/vibelab/internal/experiments"
	"github.com/haasonsaas/vibelab/internal/queue"
	"github.com/haasonsaas/vibelab/internal/ranking"
	"github.com/haasonsaas/vibelab/internal/store"
)

const maxExperimentBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type queueState struct {
	Running    bool          `json:"running"`
	Experiment string        `json:"experiment_id,omitempty"`
	Counts     queue.Counts  `json:"counts"`
	Tasks      []*queue.Task `json:"tasks"`
}

func (s *Server) queueState() queueState {
	state := queueState{
		Running: s.scheduler.IsRunning(),
		Counts:  s.scheduler.Counts(),
		Tasks:   s.scheduler.Snapshot(),
	}
	if def := s.Definition(); def != nil {
		state.Experiment = def.ID
	}
	return state
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// bodyFormat maps a request content type onto an experiments.Parse format.
func bodyFormat(r *http.Request) string {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case strings.HasSuffix(mediaType, "json"):
		return "json"
	case strings.HasSuffix(mediaType, "json5"):
		return "json5"
	default:
		return "yaml"
	}
}

func (s *Server) handleLoadExperiment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxExperimentBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	if len(body) > maxExperimentBytes {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("experiment definition too large"))
		return
	}
	def, err := experiments.Parse(body, bodyFormat(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tasks, err := s.LoadExperiment(def)
	switch {
	case errors.Is(err, queue.ErrRunning):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		var cfgErr *experiments.ConfigurationError
		if errors.As(err, &cfgErr) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"experiment": def,
		"tasks":      len(tasks),
	})
}

func (s *Server) handleCurrentExperiment(w http.ResponseWriter, _ *http.Request) {
	def := s.Definition()
	if def == nil {
		writeError(w, http.StatusNotFound, errors.New("no experiment loaded"))
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.queueState())
}

type startRequest struct {
	Concurrency int `json:"concurrency"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	}
	if req.Concurrency < 0 {
		writeError(w, http.StatusBadRequest, errors.New("concurrency must be positive"))
		return
	}
	if err := s.StartRun(req.Concurrency); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.queueState())
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.scheduler.Pause()
	writeJSON(w, http.StatusAccepted, s.queueState())
}

func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	if err := s.scheduler.Clear(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.mu.Lock()
	s.definition = nil
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.queueState())
}

func (s *Server) handleRetry(w http.ResponseWriter, _ *http.Request) {
	n, err := s.scheduler.Retry()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"queued": n})
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return n, nil
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q := r.URL.Query()
	records, err := s.store.ListResults(r.Context(), store.ListOptions{
		ExperimentID: q.Get("experiment_id"),
		Model:        q.Get("model"),
		Variation:    q.Get("variation"),
		Status:       q.Get("status"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []*store.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": records})
}

func (s *Server) result(w http.ResponseWriter, r *http.Request) (*store.Record, bool) {
	record, err := s.store.GetResult(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return nil, false
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return record, true
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	if record, ok := s.result(w, r); ok {
		writeJSON(w, http.StatusOK, record)
	}
}

func (s *Server) handleGetSVG(w http.ResponseWriter, r *http.Request) {
	record, ok := s.result(w, r)
	if !ok {
		return
	}
	if !record.Succeeded() {
		writeError(w, http.StatusNotFound, errors.New("result has no SVG"))
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, record.SVGContent)
}

type rankingRequest struct {
	ExperimentID string   `json:"experiment_id"`
	Prompt       string   `json:"prompt"`
	ResultIDs    []string `json:"result_ids"`
}

func (s *Server) handleSubmitRanking(w http.ResponseWriter, r *http.Request) {
	var req rankingRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxExperimentBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	rk := ranking.New(req.ExperimentID, req.Prompt, req.ResultIDs)
	err := ranking.Submit(r.Context(), s.store, rk)
	var verr *ranking.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.config.Metrics != nil {
		s.config.Metrics.RecordStoreOperation("save_ranking", err)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, rk)
}

func (s *Server) handleListRankings(w http.ResponseWriter, r *http.Request) {
	rankings, err := s.store.ListRankings(r.Context(), r.URL.Query().Get("experiment_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rankings == nil {
		rankings = []*store.Ranking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rankings": rankings})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	experimentID := r.URL.Query().Get("experiment_id")
	records, err := s.store.ListResults(r.Context(), store.ListOptions{ExperimentID: experimentID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	rankings, err := s.store.ListRankings(r.Context(), experimentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking.Summarize(records, rankings))
}
