package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/tiiuae/flightplanservice/internal/bridge"
	"github.com/tiiuae/flightplanservice/internal/flightplans"
	"github.com/tiiuae/flightplanservice/internal/store"
	"github.com/tiiuae/flightplanservice/internal/types"
)

type fakeBridge struct {
	connectErr error
	connected  bool
	published  []*types.FlightPlan
}

func (b *fakeBridge) Connect() error {
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connected = true
	return nil
}

func (b *fakeBridge) Disconnect() error { b.connected = false; return nil }
func (b *fakeBridge) Status() bool      { return b.connected }

func (b *fakeBridge) Publish(plan *types.FlightPlan) error {
	if !b.connected {
		return errors.Wrap(bridge.ErrNotConnected, "test")
	}
	b.published = append(b.published, plan)
	return nil
}

func newTestAPI() (http.Handler, *fakeBridge, *flightplans.Service) {
	h, b, svc, _ := newTestAPIWithStore()
	return h, b, svc
}

func newTestAPIWithStore() (http.Handler, *fakeBridge, *flightplans.Service, *store.Memory) {
	b := &fakeBridge{}
	repo := store.NewMemory()
	svc := flightplans.New(repo, b, "test")
	return New(svc, nil), b, svc, repo
}

func do(t *testing.T, h http.Handler, method string, target string, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp map[string]interface{}
	if rec.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec.Code, resp
}

func TestAddWaypoints(t *testing.T) {
	h, _, svc := newTestAPI()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "valid plan",
			body:       `{"waypoints":[{"lat":1,"lon":1,"height":10,"takePic":true},{"lat":2,"lon":2,"height":10,"staticVideo":true}],"PicInterval":5,"VidInterval":8}`,
			wantStatus: http.StatusOK,
			wantMsg:    "Waypoints Saved",
		},
		{
			name:       "malformed json",
			body:       `{"waypoints":[`,
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    "Validation error",
		},
		{
			name:       "missing waypoints",
			body:       `{"PicInterval":5}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    "Validation error",
		},
		{
			name:       "waypoint without lat",
			body:       `{"waypoints":[{"lon":1,"height":10}]}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    "Validation error",
		},
		{
			name:       "waypoint without lon",
			body:       `{"waypoints":[{"lat":1,"lon":1,"height":10},{"lat":1,"height":10}]}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    "Validation error",
		},
		{
			name:       "waypoint without height",
			body:       `{"waypoints":[{"lat":1,"lon":1,"takePic":true}]}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    "Validation error",
		},
		{
			name:       "negative interval",
			body:       `{"waypoints":[],"PicInterval":-1}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    "Validation error",
		},
		{
			name:       "stop without start",
			body:       `{"waypoints":[{"lat":1,"lon":1,"height":0,"videoStop":true}]}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			status, resp := do(t, h, http.MethodPost, "/add_waypoints", tc.body)
			if status != tc.wantStatus {
				t.Fatalf("want status %d, got %d (%v)", tc.wantStatus, status, resp)
			}
			if tc.wantMsg != "" && resp["message"] != tc.wantMsg {
				t.Fatalf("want message %q, got %v", tc.wantMsg, resp["message"])
			}
			if status != http.StatusOK && resp["success"] != false {
				t.Fatalf("failures must report success=false, got %v", resp)
			}
		})
	}

	plans, err := svc.ListFlightPlans(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("only the valid plan should be saved, got %d", len(plans))
	}

	status, resp := do(t, h, http.MethodGet, "/get_all_flightPlans", "")
	if status != http.StatusOK {
		t.Fatalf("list status %d", status)
	}
	list, ok := resp["Waypoints"].([]interface{})
	if !ok || len(list) != 1 {
		t.Fatalf("unexpected list response: %v", resp)
	}
	plan := list[0].(map[string]interface{})
	if plan["NumPics"] != float64(1) || plan["NumVids"] != float64(1) || plan["PicInterval"] != float64(5) {
		t.Fatalf("unexpected plan: %v", plan)
	}
}

func TestConnectionEndpoints(t *testing.T) {
	h, b, _ := newTestAPI()

	status, resp := do(t, h, http.MethodGet, "/connection_status", "")
	if status != http.StatusOK || resp["is_connected"] != false {
		t.Fatalf("unexpected status response %d %v", status, resp)
	}

	b.connectErr = errors.Wrap(bridge.ErrConnectionTimeout, "test")
	status, resp = do(t, h, http.MethodGet, "/connect", "")
	if status != http.StatusServiceUnavailable {
		t.Fatalf("timeout should map to 503, got %d %v", status, resp)
	}

	b.connectErr = errors.Wrap(bridge.ErrTransport, "refused")
	status, _ = do(t, h, http.MethodGet, "/connect", "")
	if status != http.StatusBadRequest {
		t.Fatalf("transport error should map to 400, got %d", status)
	}

	b.connectErr = nil
	status, resp = do(t, h, http.MethodGet, "/connect", "")
	if status != http.StatusOK || resp["message"] != "Successfully connected to the broker." {
		t.Fatalf("unexpected connect response %d %v", status, resp)
	}
	_, resp = do(t, h, http.MethodGet, "/connection_status", "")
	if resp["is_connected"] != true {
		t.Fatalf("expected connected, got %v", resp)
	}

	for i := 0; i < 2; i++ {
		status, _ = do(t, h, http.MethodGet, "/disconnect", "")
		if status != http.StatusOK {
			t.Fatalf("disconnect %d: status %d", i, status)
		}
		_, resp = do(t, h, http.MethodGet, "/connection_status", "")
		if resp["is_connected"] != false {
			t.Fatalf("expected disconnected, got %v", resp)
		}
	}
}

func TestExecuteFlightPlan(t *testing.T) {
	h, b, svc, repo := newTestAPIWithStore()

	plan, err := svc.CreateFlightPlan(context.Background(), types.WaypointData{
		Waypoints: []types.WaypointInput{{Lat: 1, Lon: 2, Height: 3}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	status, _ := do(t, h, http.MethodPost, "/executeFlightPlan?id="+plan.ID, "")
	if status != http.StatusConflict {
		t.Fatalf("publishing while disconnected should be 409, got %d", status)
	}

	b.connected = true
	status, resp := do(t, h, http.MethodPost, "/executeFlightPlan?id="+plan.ID, "")
	if status != http.StatusOK || resp["message"] != "Flight plan published" {
		t.Fatalf("unexpected response %d %v", status, resp)
	}
	if len(b.published) != 1 || b.published[0].ID != plan.ID {
		t.Fatalf("unexpected published plans: %+v", b.published)
	}

	// a plan in the body is not published, only stored plans are
	body := `{"NumWaypoints":9,"FlightWaypoints":[],"NumVids":1,"VidWaypoints":[{"mode":"moving","latStart":1}]}`
	status, resp = do(t, h, http.MethodPost, "/executeFlightPlan", body)
	if status != http.StatusUnprocessableEntity || resp["message"] != "Validation error" {
		t.Fatalf("publish without id should be 422, got %d %v", status, resp)
	}

	broken := &types.FlightPlan{NumWaypoints: 9, FlightWaypoints: []types.Waypoint{}, NumPics: 3}
	id, err := repo.Save(types.CollectionFlightPlans, broken)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	status, resp = do(t, h, http.MethodPost, "/executeFlightPlan?id="+id, "")
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("inconsistent plan should be 422, got %d %v", status, resp)
	}
	if len(b.published) != 1 {
		t.Fatalf("inconsistent plans must not be published: %+v", b.published)
	}

	status, _ = do(t, h, http.MethodPost, "/executeFlightPlan?id=missing", "")
	if status != http.StatusNotFound {
		t.Fatalf("unknown plan should be 404, got %d", status)
	}
}

func TestFlights(t *testing.T) {
	h, _, svc := newTestAPI()

	plan, err := svc.CreateFlightPlan(context.Background(), types.WaypointData{
		Waypoints: []types.WaypointInput{{Lat: 1, Lon: 2, Height: 3, TakePic: true}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	date := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)
	body := `{"FlightPlan":"` + plan.ID + `","Date":"` + date + `","Pictures":[{"namePicture":"p1.jpg","latImage":1,"lonImage":2}],"Videos":[]}`
	status, resp := do(t, h, http.MethodPost, "/flights", body)
	if status != http.StatusOK || resp["message"] != "Flight Saved" {
		t.Fatalf("unexpected response %d %v", status, resp)
	}

	req := httptest.NewRequest(http.MethodGet, "/get_all_flights", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var flights []types.FlightDetails
	if err := json.Unmarshal(rec.Body.Bytes(), &flights); err != nil {
		t.Fatalf("decode flights: %v", err)
	}
	if len(flights) != 1 || flights[0].FlightPlan.ID != plan.ID || len(flights[0].Pictures) != 1 || flights[0].Pictures[0].Name != "p1.jpg" {
		t.Fatalf("unexpected flights: %+v", flights)
	}

	status, _ = do(t, h, http.MethodPost, "/flights", `{"FlightPlan":"missing"}`)
	if status != http.StatusNotFound {
		t.Fatalf("unknown plan should be 404, got %d", status)
	}
}
