// Package api exposes the flight plan service over HTTP
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/tiiuae/flightplanservice/internal/bridge"
	"github.com/tiiuae/flightplanservice/internal/compiler"
	"github.com/tiiuae/flightplanservice/internal/store"
	"github.com/tiiuae/flightplanservice/internal/types"
)

const maxBodyBytes = 4 << 20

// Service is what the HTTP handlers call into
type Service interface {
	CreateFlightPlan(ctx context.Context, data types.WaypointData) (*types.FlightPlan, error)
	GetFlightPlan(ctx context.Context, id string) (*types.FlightPlan, error)
	ListFlightPlans(ctx context.Context) ([]*types.FlightPlan, error)
	RecordFlight(ctx context.Context, flightPlanID string, date time.Time, pictures []types.Picture, videos []types.Video) (*types.Flight, error)
	ListFlights(ctx context.Context) ([]*types.FlightDetails, error)
	PublishFlightPlan(ctx context.Context, plan *types.FlightPlan) error
	Connect() error
	Disconnect() error
	ConnectionStatus() bool
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorDetail struct {
	Msg string `json:"msg"`
}

type errorResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Errors  []errorDetail `json:"errors,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// waypointEntry uses pointers so that missing coordinates can be told
// apart from zero
type waypointEntry struct {
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Height      *float64 `json:"height"`
	TakePic     bool     `json:"takePic"`
	VideoStart  bool     `json:"videoStart"`
	VideoStop   bool     `json:"videoStop"`
	StaticVideo bool     `json:"staticVideo"`
}

type waypointRequest struct {
	Waypoints   *[]waypointEntry `json:"waypoints"`
	PicInterval float64          `json:"PicInterval"`
	VidInterval float64          `json:"VidInterval"`
}

func (req *waypointRequest) toWaypointData() (types.WaypointData, error) {
	if req.Waypoints == nil {
		return types.WaypointData{}, errors.New("field required: waypoints")
	}

	waypoints := make([]types.WaypointInput, 0, len(*req.Waypoints))
	for i, e := range *req.Waypoints {
		switch {
		case e.Lat == nil:
			return types.WaypointData{}, errors.Errorf("field required: waypoints.%d.lat", i)
		case e.Lon == nil:
			return types.WaypointData{}, errors.Errorf("field required: waypoints.%d.lon", i)
		case e.Height == nil:
			return types.WaypointData{}, errors.Errorf("field required: waypoints.%d.height", i)
		}
		waypoints = append(waypoints, types.WaypointInput{
			Lat:         *e.Lat,
			Lon:         *e.Lon,
			Height:      *e.Height,
			TakePic:     e.TakePic,
			VideoStart:  e.VideoStart,
			VideoStop:   e.VideoStop,
			StaticVideo: e.StaticVideo,
		})
	}
	return types.WaypointData{
		Waypoints:   waypoints,
		PicInterval: req.PicInterval,
		VidInterval: req.VidInterval,
	}, nil
}

type flightRequest struct {
	FlightPlan string          `json:"FlightPlan"`
	Date       time.Time       `json:"Date"`
	Pictures   []types.Picture `json:"Pictures"`
	Videos     []types.Video   `json:"Videos"`
}

type API struct {
	svc Service
}

// New returns the service routes. feed, when not nil, serves the
// connection status websocket.
func New(svc Service, feed http.Handler) http.Handler {
	a := &API{svc}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /add_waypoints", a.addWaypoints)
	mux.HandleFunc("GET /get_all_flightPlans", a.getAllFlightPlans)
	mux.HandleFunc("GET /flightPlans/{id}", a.getFlightPlan)
	mux.HandleFunc("GET /get_all_flights", a.getAllFlights)
	mux.HandleFunc("POST /flights", a.recordFlight)
	mux.HandleFunc("GET /connect", a.connect)
	mux.HandleFunc("GET /disconnect", a.disconnect)
	mux.HandleFunc("GET /connection_status", a.connectionStatus)
	mux.HandleFunc("POST /executeFlightPlan", a.executeFlightPlan)
	if feed != nil {
		mux.Handle("GET /ws/connection_status", feed)
	}

	return logRequests(mux)
}

func (a *API) addWaypoints(w http.ResponseWriter, r *http.Request) {
	var req waypointRequest
	if err := decodeBody(w, r, &req); err != nil {
		sendValidationError(w, err.Error())
		return
	}
	data, err := req.toWaypointData()
	if err != nil {
		sendValidationError(w, err.Error())
		return
	}

	_, err = a.svc.CreateFlightPlan(r.Context(), data)
	switch {
	case err == nil:
		sendJSON(w, http.StatusOK, successResponse{true, "Waypoints Saved"})
	case errors.Is(err, compiler.ErrValidation):
		sendValidationError(w, err.Error())
	case errors.Is(err, compiler.ErrInvalidSequence):
		sendError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("Could not save flight plan: %v", err)
		sendError(w, http.StatusInternalServerError, err.Error())
	}
}

func (a *API) getAllFlightPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := a.svc.ListFlightPlans(r.Context())
	if err != nil {
		log.Printf("Could not list flight plans: %v", err)
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"Waypoints": plans})
}

func (a *API) getFlightPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := a.svc.GetFlightPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, plan)
}

func (a *API) getAllFlights(w http.ResponseWriter, r *http.Request) {
	flights, err := a.svc.ListFlights(r.Context())
	if err != nil {
		log.Printf("Could not list flights: %v", err)
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, flights)
}

func (a *API) recordFlight(w http.ResponseWriter, r *http.Request) {
	var req flightRequest
	if err := decodeBody(w, r, &req); err != nil {
		sendValidationError(w, err.Error())
		return
	}
	if req.FlightPlan == "" {
		sendValidationError(w, "field required: FlightPlan")
		return
	}
	if req.Date.IsZero() {
		req.Date = time.Now().UTC()
	}

	_, err := a.svc.RecordFlight(r.Context(), req.FlightPlan, req.Date, req.Pictures, req.Videos)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, successResponse{true, "Flight Saved"})
}

func (a *API) connect(w http.ResponseWriter, r *http.Request) {
	err := a.svc.Connect()
	switch {
	case err == nil:
		sendJSON(w, http.StatusOK, messageResponse{"Successfully connected to the broker."})
	case errors.Is(err, bridge.ErrConnectionTimeout):
		sendError(w, http.StatusServiceUnavailable, "Connection failed. No telemetryInfo message received.")
	default:
		sendError(w, http.StatusBadRequest, err.Error())
	}
}

func (a *API) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Disconnect(); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, messageResponse{"Successfully disconnected from the broker."})
}

func (a *API) connectionStatus(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]bool{"is_connected": a.svc.ConnectionStatus()})
}

// executeFlightPlan publishes the stored plan named by the id query
// parameter
func (a *API) executeFlightPlan(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		sendValidationError(w, "field required: id")
		return
	}
	plan, err := a.svc.GetFlightPlan(r.Context(), id)
	if err != nil {
		sendStoreError(w, err)
		return
	}

	err = a.svc.PublishFlightPlan(r.Context(), plan)
	switch {
	case err == nil:
		sendJSON(w, http.StatusOK, messageResponse{"Flight plan published"})
	case errors.Is(err, types.ErrInvalidPlan):
		sendValidationError(w, err.Error())
	case errors.Is(err, bridge.ErrNotConnected):
		sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, bridge.ErrTransport):
		sendError(w, http.StatusBadGateway, err.Error())
	default:
		sendError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.WithMessage(err, "invalid request body")
	}
	return nil
}

func sendStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		sendError(w, http.StatusNotFound, err.Error())
		return
	}
	log.Printf("Store error: %v", err)
	sendError(w, http.StatusInternalServerError, err.Error())
}

func sendValidationError(w http.ResponseWriter, msg string) {
	sendJSON(w, http.StatusUnprocessableEntity, errorResponse{
		Success: false,
		Message: "Validation error",
		Errors:  []errorDetail{{msg}},
	})
}

func sendError(w http.ResponseWriter, status int, msg string) {
	sendJSON(w, status, errorResponse{Success: false, Message: msg})
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Could not write response: %v", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Hijack is needed by the websocket upgrade of the status feed
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{w, http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("REQUEST %s %s %d %v", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
