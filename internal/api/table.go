package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/geomodel-core/internal/history"
	"github.com/nerrad567/geomodel-core/internal/table"
)

// DeviceState is the API view of one cached device response.
type DeviceState struct {
	Device  string       `json:"device"`
	Name    string       `json:"name"`
	Status  table.Status `json:"status"`
	Value   float64      `json:"value"`
	Seconds int          `json:"seconds"`
	Unit    string       `json:"unit"`
	Min     float64      `json:"min"`
	Max     float64      `json:"max"`
	Step    float64      `json:"step"`
}

func newDeviceState(resp table.Response) DeviceState {
	rng := resp.Device.Range()
	return DeviceState{
		Device:  resp.Device.Slug(),
		Name:    resp.Device.String(),
		Status:  resp.Status,
		Value:   resp.Value,
		Seconds: resp.Seconds,
		Unit:    rng.Unit,
		Min:     rng.Min,
		Max:     rng.Max,
		Step:    rng.Step,
	}
}

// TableStatus is the response body of GET /table.
type TableStatus struct {
	Connected bool                  `json:"connected"`
	Devices   []DeviceState         `json:"devices"`
	Stats     table.ControllerStats `json:"stats"`
}

// RequestBody is the body of POST /table/requests.
type RequestBody struct {
	// Device is a device name, alias or code; "all" or empty targets the
	// whole table (GET and STOP only).
	Device  string  `json:"device"`
	Verb    string  `json:"verb"`
	Value   float64 `json:"value"`
	Seconds int     `json:"seconds"`
}

// request converts the body to a table request.
func (b RequestBody) request() (table.Request, error) {
	d := table.Unknown
	if name := strings.TrimSpace(b.Device); name != "" && !strings.EqualFold(name, "all") {
		parsed, err := table.ParseDevice(name)
		if err != nil {
			return table.Request{}, err
		}
		d = parsed
	}
	return table.Request{
		Verb:    table.ParseVerb(b.Verb),
		Device:  d,
		Value:   b.Value,
		Seconds: b.Seconds,
	}, nil
}

func (s *Server) tableStatus() TableStatus {
	values := s.controller.CurrentValues()
	devices := make([]DeviceState, 0, len(values))
	for _, resp := range values {
		devices = append(devices, newDeviceState(resp))
	}
	return TableStatus{
		Connected: s.controller.IsConnected(),
		Devices:   devices,
		Stats:     s.controller.Stats(),
	}
}

// handleGetTable returns the connection state and every cached device.
func (s *Server) handleGetTable(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tableStatus())
}

// handleConnect opens the table link and reseeds the cache.
func (s *Server) handleConnect(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.Connect(); err != nil {
		s.logger.Warn("table connect failed", "error", err)
		fail(w, http.StatusBadGateway, "table connect failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.tableStatus())
}

// handleDisconnect closes the table link. The cache keeps its last values.
func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.controller.Disconnect()
	writeJSON(w, http.StatusOK, s.tableStatus())
}

// handleListDevices returns every declared device in table order.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	status := s.tableStatus()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": status.Devices,
		"count":   len(status.Devices),
	})
}

// handleGetDevice returns one cached device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := parseDeviceParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newDeviceState(s.controller.CurrentValue(d)))
}

// handleGetDeviceHistory returns recorded responses for a device, newest first.
//
// Query parameters:
//   - limit: max results (default 50, max 200)
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	d, ok := parseDeviceParam(w, r)
	if !ok {
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.history == nil {
		fail(w, http.StatusServiceUnavailable, "response history unavailable")
		return
	}

	entries, err := s.history.List(r.Context(), d, limit)
	if err != nil {
		s.logger.Error("failed to load history", "device", d.Slug(), "error", err)
		writeInternalError(w, "failed to load device history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device":  d.Slug(),
		"history": entries,
		"count":   len(entries),
	})
}

// handleSubmitRequest validates a request and sends it to the table.
func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var body RequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, err := body.request()
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	if err := s.submitter.Submit(r.Context(), req, history.OriginAPI); err != nil {
		if errors.Is(err, table.ErrNotConnected) {
			fail(w, http.StatusConflict, "table is not connected")
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	if subject := subjectFromContext(r.Context()); subject != "" {
		s.logger.Info("request submitted", "subject", subject, "request", req.String())
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"request": req,
	})
}

// handleListRequests returns the request log, newest first.
//
// Query parameters:
//   - origin: mqtt, api or script
//   - outcome: sent, rejected or ignored
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	if s.requests == nil {
		fail(w, http.StatusServiceUnavailable, "request log unavailable")
		return
	}

	q := r.URL.Query()
	filter := history.RequestFilter{
		Origin:  q.Get("origin"),
		Outcome: q.Get("outcome"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	page, err := s.requests.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list requests", "error", err)
		writeInternalError(w, "failed to list requests")
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// parseDeviceParam resolves the {device} URL parameter, writing a 404 on failure.
func parseDeviceParam(w http.ResponseWriter, r *http.Request) (table.Device, bool) {
	d, err := table.ParseDevice(chi.URLParam(r, "device"))
	if err != nil {
		fail(w, http.StatusNotFound, "device not found")
		return table.Unknown, false
	}
	return d, true
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// parseLimit parses the limit query parameter.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, errors.New("limit exceeds maximum")
	}
	return limit, nil
}
