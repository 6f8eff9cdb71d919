package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-chi/chi/v5"
)

// runSummary is the listing entry for one archived run.
type runSummary struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListRuns lists the archived runs, newest directory first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.artifactsDir)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, []runSummary{})
			return
		}
		s.log.Error().Err(err).Msg("Failed to list runs")
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}

	runs := make([]runSummary, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.artifactsDir, e.Name(), "run.json")); err != nil {
			continue
		}
		runs = append(runs, runSummary{RunID: e.Name()})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID > runs[j].RunID })
	writeJSON(w, http.StatusOK, runs)
}

// handleGetRun returns the archived run report (leaderboard included).
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := os.ReadFile(filepath.Join(s.artifactsDir, id, "run.json"))
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		s.log.Error().Err(err).Str("run_id", id).Msg("Failed to read run report")
		http.Error(w, "failed to read run", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleRunArtifact serves one named CSV artifact of a run.
func (s *Server) handleRunArtifact(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		path := filepath.Join(s.artifactsDir, id, name)
		if _, err := os.Stat(path); err != nil {
			http.Error(w, "artifact not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		http.ServeFile(w, r, path)
	}
}

// handleOptimize launches a run; 409 when one is already in flight.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if s.run == nil {
		http.Error(w, "optimization not configured", http.StatusServiceUnavailable)
		return
	}
	if !s.launchRun() {
		http.Error(w, "optimization already running", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
