package store

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pkg/errors"
	"github.com/tiiuae/flightplanservice/internal/types"
)

func samplePlan() *types.FlightPlan {
	return &types.FlightPlan{
		NumWaypoints:    2,
		FlightWaypoints: []types.Waypoint{{Lat: 1, Lon: 2, Height: 3}, {Lat: 4, Lon: 5, Height: 6}},
		NumPics:         1,
		PicsWaypoints:   []types.Waypoint{{Lat: 1, Lon: 2, Height: 3}},
		NumVids:         1,
		VidWaypoints: []types.VideoPlan{
			types.NewMovingVideo(types.Waypoint{Lat: 1, Lon: 2}, types.Waypoint{Lat: 4, Lon: 5}),
		},
		PicInterval: 2,
	}
}

func TestSaveAssignsIDAndCopies(t *testing.T) {
	s := NewMemory()
	plan := samplePlan()

	id, err := s.Save(types.CollectionFlightPlans, plan)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if id == "" || plan.ID != id {
		t.Fatalf("expected id to be assigned, got %q / %q", id, plan.ID)
	}

	// mutating the caller's value must not leak into the store
	plan.FlightWaypoints[0].Lat = 99
	plan.VidWaypoints[0].Moving.LatEnd = 99

	var got types.FlightPlan
	if err := s.GetByID(types.CollectionFlightPlans, id, &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	want := samplePlan()
	want.ID = id
	if !reflect.DeepEqual(&got, want) {
		t.Fatalf("stored plan mismatch\nwant: %#v\ngot:  %#v", want, &got)
	}

	// nor must mutating the returned value
	got.VidWaypoints[0].Moving.LatStart = 42
	var again types.FlightPlan
	if err := s.GetByID(types.CollectionFlightPlans, id, &again); err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.VidWaypoints[0].Moving.LatStart != 1 {
		t.Fatalf("returned value shares state with the store")
	}
}

func TestGetByIDErrors(t *testing.T) {
	s := NewMemory()

	var plan types.FlightPlan
	err := s.GetByID(types.CollectionFlightPlans, "missing", &plan)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	id, err := s.Save(types.CollectionPictures, &types.Picture{Name: "a.jpg"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.GetByID(types.CollectionPictures, id, &plan); err == nil {
		t.Fatalf("expected type mismatch error")
	}
	if err := s.GetByID(types.CollectionPictures, id, plan); err == nil {
		t.Fatalf("expected error for non-pointer out")
	}
}

func TestIDsInInsertionOrder(t *testing.T) {
	s := NewMemory()
	var want []string
	for i := 0; i < 10; i++ {
		id, err := s.Save(types.CollectionPictures, &types.Picture{Lat: float64(i)})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		want = append(want, id)
	}

	// re-saving keeps the original position
	p := &types.Picture{ID: want[3], Name: "updated"}
	if _, err := s.Save(types.CollectionPictures, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.IDs(types.CollectionPictures)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ids mismatch\nwant: %v\ngot:  %v", want, got)
	}

	empty, err := s.IDs(types.CollectionVideos)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty collection, got %v (%v)", empty, err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	plan := samplePlan()
	planID, err := s.Save(types.CollectionFlightPlans, plan)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	picID, err := s.Save(types.CollectionPictures, &types.Picture{Name: "p1.jpg", Lat: 1})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	var gotPlan types.FlightPlan
	if err := reopened.GetByID(types.CollectionFlightPlans, planID, &gotPlan); err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if !reflect.DeepEqual(&gotPlan, plan) {
		t.Fatalf("plan mismatch after reload\nwant: %#v\ngot:  %#v", plan, &gotPlan)
	}

	var gotPic types.Picture
	if err := reopened.GetByID(types.CollectionPictures, picID, &gotPic); err != nil {
		t.Fatalf("get picture: %v", err)
	}
	if gotPic.Name != "p1.jpg" {
		t.Fatalf("unexpected picture %+v", gotPic)
	}

	ids, _ := reopened.IDs(types.CollectionFlightPlans)
	if len(ids) != 1 || ids[0] != planID {
		t.Fatalf("unexpected ids after reload: %v", ids)
	}
}

func TestSaveFailureLeavesEntityUntouched(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "missing-dir", "store.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	plan := samplePlan()
	id, err := s.Save(types.CollectionFlightPlans, plan)
	if err == nil {
		t.Fatalf("expected the snapshot write to fail")
	}
	if id != "" || plan.ID != "" {
		t.Fatalf("failed save must not assign an id, got id=%q plan.ID=%q", id, plan.ID)
	}

	ids, err := s.IDs(types.CollectionFlightPlans)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("failed save was kept: %v", ids)
	}

	// an entity that already had an id keeps it
	plan.ID = "given"
	if _, err := s.Save(types.CollectionFlightPlans, plan); err == nil {
		t.Fatalf("expected the snapshot write to fail")
	}
	if plan.ID != "given" {
		t.Fatalf("existing id was changed to %q", plan.ID)
	}
}
