package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/banshee-data/rangefinder/internal/httputil"
	"github.com/banshee-data/rangefinder/internal/inclination"
	"github.com/banshee-data/rangefinder/internal/monitoring"
	"github.com/banshee-data/rangefinder/internal/prefs"
	"github.com/banshee-data/rangefinder/internal/session"
	"github.com/banshee-data/rangefinder/internal/solver"
	"github.com/banshee-data/rangefinder/internal/units"
	"github.com/banshee-data/rangefinder/internal/version"
)

const maxBodyBytes = 64 * 1024

// EstimateResponse is returned by every endpoint that changes the marker.
type EstimateResponse struct {
	SessionID  uuid.UUID         `json:"session_id"`
	State      string            `json:"state"`
	Configured bool              `json:"configured"`
	Estimate   *session.Estimate `json:"estimate,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func estimateResponse(sess *session.Session) EstimateResponse {
	resp := EstimateResponse{SessionID: sess.ID(), State: sess.State().String()}
	est, err := sess.CurrentEstimate()
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Configured = true
	resp.Estimate = &est
	return resp
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// writeSessionError maps session errors to status codes. Missing
// configuration is not an HTTP error: the response says configured=false.
func writeSessionError(w http.ResponseWriter, sess *session.Session, err error) {
	switch {
	case errors.Is(err, session.ErrTerminated):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, session.ErrInvalidDisplay), errors.Is(err, solver.ErrInvalidDisplacement):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, solver.ErrUnconfigured):
		httputil.WriteJSONOK(w, estimateResponse(sess))
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) showEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, estimateResponse(s.Session()))
}

type configureRequest struct {
	ArmLengthMeters     *float64 `json:"arm_length_m"`
	EyeSeparationMeters *float64 `json:"eye_separation_m"`
	Units               *string  `json:"units"`
}

// configure sets the session constants. An empty body reloads them from the
// preference store.
func (s *Server) configure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req configureRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	sess := s.Session()
	c := s.cfg.Store.Constants()
	sys := s.cfg.Store.System()
	if req.ArmLengthMeters != nil {
		c.ArmLength = *req.ArmLengthMeters
	}
	if req.EyeSeparationMeters != nil {
		c.EyeSeparation = *req.EyeSeparationMeters
	}
	if req.Units != nil {
		if !units.IsValid(*req.Units) {
			httputil.BadRequest(w, fmt.Sprintf("invalid units %q: must be one of: %s", *req.Units, units.GetValidSystemsString()))
			return
		}
		sys = units.ParseSystem(*req.Units)
	}

	if err := sess.Configure(c, sys); err != nil {
		writeSessionError(w, sess, err)
		return
	}
	httputil.WriteJSONOK(w, estimateResponse(sess))
}

type adjustRequest struct {
	Pixels         *int     `json:"pixels"`
	Width          int      `json:"width"`
	PixelsPerMeter float64  `json:"pixels_per_meter"`
	Delta          *int     `json:"delta"`
	Trackball      *float64 `json:"trackball"`
}

// adjust moves the marker. Exactly one of pixels, delta or trackball must be
// given. Absolute moves may omit width and density to reuse the session's.
func (s *Server) adjust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req adjustRequest
	if !decodeBody(w, r, &req) {
		return
	}

	n := 0
	for _, set := range []bool{req.Pixels != nil, req.Delta != nil, req.Trackball != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		httputil.BadRequest(w, "exactly one of pixels, delta or trackball is required")
		return
	}

	sess := s.Session()
	var err error
	switch {
	case req.Pixels != nil:
		d := sess.Display()
		if req.Width != 0 {
			d.WidthPixels = req.Width
		}
		if req.PixelsPerMeter != 0 {
			d.PixelsPerMeter = req.PixelsPerMeter
		}
		err = sess.AdjustDisplacement(*req.Pixels, d.WidthPixels, d.PixelsPerMeter)
	case req.Delta != nil:
		err = sess.Nudge(*req.Delta)
	default:
		err = sess.Trackball(*req.Trackball)
	}
	if err != nil {
		writeSessionError(w, sess, err)
		return
	}
	httputil.WriteJSONOK(w, estimateResponse(sess))
}

// TiltResponse reports the tracker state after a pushed sample.
type TiltResponse struct {
	Supported bool     `json:"supported"`
	Degrees   *float64 `json:"degrees,omitempty"`
}

func (s *Server) pushTilt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var sample inclination.Sample
	if !decodeBody(w, r, &sample) {
		return
	}

	s.Session().PushTiltSample(sample.X, sample.Y, sample.Z)

	resp := TiltResponse{Supported: s.cfg.Tracker.Supported()}
	if a, ok := s.cfg.Tracker.Current(); ok {
		deg := inclination.Degrees(a)
		resp.Degrees = &deg
	}
	httputil.WriteJSONOK(w, resp)
}

// FinalizeResponse carries the result and the values a calling application
// reads back.
type FinalizeResponse struct {
	Result session.Result `json:"result"`
	Extras map[string]any `json:"extras"`
	Stored bool           `json:"stored"`
}

func (s *Server) finalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.sess.Finalize()
	if errors.Is(err, solver.ErrUnconfigured) {
		httputil.Unprocessable(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	if s.cfg.DB != nil && !s.recorded {
		if err := s.cfg.DB.RecordResult(result); err != nil {
			monitoring.Logf("failed to record result %s: %v", result.ID, err)
		} else {
			s.recorded = true
		}
	}

	httputil.WriteJSONOK(w, FinalizeResponse{
		Result: result,
		Extras: jsonSafe(result.Extras()),
		Stored: s.recorded,
	})
}

// jsonSafe replaces non-finite floats, which encoding/json rejects, with nil.
func jsonSafe(m map[string]any) map[string]any {
	for k, v := range m {
		if f, ok := v.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
			m[k] = nil
		}
	}
	return m
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	sess := s.Reset()
	monitoring.Logf("started session %s", sess.ID())
	httputil.WriteJSON(w, http.StatusCreated, estimateResponse(sess))
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.DB == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "result storage is not configured")
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	results, err := s.cfg.DB.ListResults(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve results: %v", err))
		return
	}
	if results == nil {
		results = []session.Result{}
	}
	httputil.WriteJSONOK(w, results)
}

// PreferencesResponse shows the raw stored values and the active summaries.
type PreferencesResponse struct {
	Values     map[string]string `json:"values"`
	Summaries  map[string]string `json:"summaries"`
	Configured bool              `json:"configured"`
}

func (s *Server) preferencesResponse() PreferencesResponse {
	store := s.cfg.Store
	return PreferencesResponse{
		Values: store.Values(),
		Summaries: map[string]string{
			prefs.ArmLength.String():     store.Summary(prefs.ArmLength),
			prefs.EyeSeparation.String(): store.Summary(prefs.EyeSeparation),
		},
		Configured: store.Configured(),
	}
}

// preferences reads or edits the stored preferences. A PUT body maps
// preference keys to raw text. The whole body is checked before anything is
// written; lengths are then written in key order, each edit re-deriving its
// counterpart, and the units key last. A store failure part way through
// leaves the earlier lengths written and the unit system unchanged.
func (s *Server) preferences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.preferencesResponse())
		return
	case http.MethodPut:
	default:
		httputil.MethodNotAllowed(w)
		return
	}

	var body map[string]string
	if !decodeBody(w, r, &body) {
		return
	}

	keys := make([]string, 0, len(body))
	for k := range body {
		if k == prefs.KeyUnits {
			continue
		}
		if _, _, ok := prefs.ParseKey(k); !ok {
			httputil.BadRequest(w, fmt.Sprintf("unknown preference %q", k))
			return
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	v, setUnits := body[prefs.KeyUnits]
	if setUnits && !units.IsValid(v) {
		httputil.BadRequest(w, fmt.Sprintf("invalid units %q: must be one of: %s", v, units.GetValidSystemsString()))
		return
	}

	store := s.cfg.Store
	for _, k := range keys {
		q, sys, _ := prefs.ParseKey(k)
		if err := store.SetQuantity(q, sys, body[k]); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
	}
	if setUnits {
		if err := store.SetSystem(units.ParseSystem(v)); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
	}

	// a live session follows the preferences; a finalized one keeps its result
	sess := s.Session()
	if err := sess.ConfigureFrom(store); err != nil && !errors.Is(err, session.ErrTerminated) {
		httputil.InternalServerError(w, err.Error())
		return
	}

	httputil.WriteJSONOK(w, s.preferencesResponse())
}

func (s *Server) showTicks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	sess := s.Session()
	c, sys := sess.Constants()
	d := sess.Display()
	if !d.Valid() {
		d = s.cfg.Display
	}

	ticks, err := solver.Ticks(c, sys, d.PixelsPerMeter)
	if err != nil {
		httputil.Unprocessable(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, ticks)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Current())
}
