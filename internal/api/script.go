package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/geomodel-core/internal/script"
)

// handleGetScript returns the runner status.
func (s *Server) handleGetScript(w http.ResponseWriter, _ *http.Request) {
	if s.runner == nil {
		fail(w, http.StatusServiceUnavailable, "script runner unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Status())
}

// handleLoadScript replaces the script with the YAML document in the body.
func (s *Server) handleLoadScript(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		fail(w, http.StatusServiceUnavailable, "script runner unavailable")
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		fail(w, http.StatusBadRequest, "failed to read body")
		return
	}

	sc, err := script.Parse(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	if err := s.runner.SetScript(sc); err != nil {
		s.writeScriptError(w, err)
		return
	}

	s.logger.Info("script loaded", "name", sc.Name, "steps", len(sc.Steps))
	writeJSON(w, http.StatusOK, s.runner.Status())
}

func (s *Server) handleScriptStart(w http.ResponseWriter, _ *http.Request) {
	s.scriptAction(w, s.runnerStart)
}

func (s *Server) handleScriptPause(w http.ResponseWriter, _ *http.Request) {
	s.scriptAction(w, s.runnerPause)
}

func (s *Server) handleScriptResume(w http.ResponseWriter, _ *http.Request) {
	s.scriptAction(w, s.runnerResume)
}

func (s *Server) handleScriptReset(w http.ResponseWriter, _ *http.Request) {
	s.scriptAction(w, func() error {
		s.runner.Reset()
		return nil
	})
}

func (s *Server) runnerStart() error  { return s.runner.Start() }
func (s *Server) runnerPause() error  { return s.runner.Pause() }
func (s *Server) runnerResume() error { return s.runner.Resume() }

// scriptAction runs one runner transition and replies with the new status.
func (s *Server) scriptAction(w http.ResponseWriter, action func() error) {
	if s.runner == nil {
		fail(w, http.StatusServiceUnavailable, "script runner unavailable")
		return
	}
	if err := action(); err != nil {
		s.writeScriptError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Status())
}

// writeScriptError maps runner state errors to 409 and anything else to 500.
func (s *Server) writeScriptError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, script.ErrNoScript),
		errors.Is(err, script.ErrBusy),
		errors.Is(err, script.ErrNotRunning),
		errors.Is(err, script.ErrNotPaused):
		fail(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("script action failed", "error", err)
		writeInternalError(w, "script action failed")
	}
}
