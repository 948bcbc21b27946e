// Package flightplans ties the compiler, the store and the broker bridge
// together.
package flightplans

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"
	"github.com/tiiuae/flightplanservice/internal/compiler"
	"github.com/tiiuae/flightplanservice/internal/store"
	"github.com/tiiuae/flightplanservice/internal/types"
)

// Bridge is the part of the broker bridge the service drives
type Bridge interface {
	Connect() error
	Disconnect() error
	Status() bool
	Publish(plan *types.FlightPlan) error
}

type Service struct {
	repo   store.Repository
	bridge Bridge
	post   types.PostFn
	name   string
}

func New(repo store.Repository, bridge Bridge, name string) *Service {
	return &Service{repo: repo, bridge: bridge, name: name}
}

// SetPost attaches a bus for service events
func (s *Service) SetPost(post types.PostFn) {
	s.post = post
}

// CreateFlightPlan compiles the waypoints and saves the result. Nothing is
// saved when compiling fails. Store errors are returned as they are.
func (s *Service) CreateFlightPlan(ctx context.Context, data types.WaypointData) (*types.FlightPlan, error) {
	plan, err := compiler.Compile(data.Waypoints, data.PicInterval, data.VidInterval)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.Save(types.CollectionFlightPlans, plan); err != nil {
		return nil, err
	}

	log.Printf("Flight plan %s saved: %d waypoints, %d pictures, %d videos", plan.ID, plan.NumWaypoints, plan.NumPics, plan.NumVids)
	s.emit(types.MessageFlightPlanCreated, types.FlightPlanEvent{ID: plan.ID, NumWaypoints: plan.NumWaypoints})
	return plan, nil
}

func (s *Service) GetFlightPlan(ctx context.Context, id string) (*types.FlightPlan, error) {
	var plan types.FlightPlan
	if err := s.repo.GetByID(types.CollectionFlightPlans, id, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *Service) ListFlightPlans(ctx context.Context) ([]*types.FlightPlan, error) {
	ids, err := s.repo.IDs(types.CollectionFlightPlans)
	if err != nil {
		return nil, err
	}

	plans := make([]*types.FlightPlan, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		plan, err := s.GetFlightPlan(ctx, id)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// RecordFlight saves the media of a finished flight and the flight itself
// with references to them
func (s *Service) RecordFlight(ctx context.Context, flightPlanID string, date time.Time, pictures []types.Picture, videos []types.Video) (*types.Flight, error) {
	if _, err := s.GetFlightPlan(ctx, flightPlanID); err != nil {
		return nil, errors.WithMessagef(err, "flight plan %s", flightPlanID)
	}

	flight := &types.Flight{
		Date:         date,
		FlightPlanID: flightPlanID,
		PictureIDs:   make([]string, 0, len(pictures)),
		VideoIDs:     make([]string, 0, len(videos)),
	}
	for i := range pictures {
		id, err := s.repo.Save(types.CollectionPictures, &pictures[i])
		if err != nil {
			return nil, err
		}
		flight.PictureIDs = append(flight.PictureIDs, id)
	}
	for i := range videos {
		id, err := s.repo.Save(types.CollectionVideos, &videos[i])
		if err != nil {
			return nil, err
		}
		flight.VideoIDs = append(flight.VideoIDs, id)
	}

	if _, err := s.repo.Save(types.CollectionFlights, flight); err != nil {
		return nil, err
	}

	s.emit(types.MessageFlightRecorded, types.FlightPlanEvent{ID: flightPlanID})
	return flight, nil
}

// ListFlights returns every flight with its plan, pictures and videos
// expanded
func (s *Service) ListFlights(ctx context.Context) ([]*types.FlightDetails, error) {
	ids, err := s.repo.IDs(types.CollectionFlights)
	if err != nil {
		return nil, err
	}

	result := make([]*types.FlightDetails, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var flight types.Flight
		if err := s.repo.GetByID(types.CollectionFlights, id, &flight); err != nil {
			return nil, err
		}
		details, err := s.expandFlight(ctx, &flight)
		if err != nil {
			return nil, err
		}
		result = append(result, details)
	}
	return result, nil
}

func (s *Service) expandFlight(ctx context.Context, flight *types.Flight) (*types.FlightDetails, error) {
	plan, err := s.GetFlightPlan(ctx, flight.FlightPlanID)
	if err != nil {
		return nil, err
	}

	details := &types.FlightDetails{
		ID:         flight.ID,
		Date:       flight.Date,
		FlightPlan: plan,
		Pictures:   make([]types.Picture, 0, len(flight.PictureIDs)),
		Videos:     make([]types.Video, 0, len(flight.VideoIDs)),
	}
	for _, id := range flight.PictureIDs {
		var pic types.Picture
		if err := s.repo.GetByID(types.CollectionPictures, id, &pic); err != nil {
			return nil, err
		}
		details.Pictures = append(details.Pictures, pic)
	}
	for _, id := range flight.VideoIDs {
		var vid types.Video
		if err := s.repo.GetByID(types.CollectionVideos, id, &vid); err != nil {
			return nil, err
		}
		details.Videos = append(details.Videos, vid)
	}
	return details, nil
}

// PublishFlightPlan hands a complete plan to the bridge. Plans whose counts
// or video segments are inconsistent fail with types.ErrInvalidPlan.
func (s *Service) PublishFlightPlan(ctx context.Context, plan *types.FlightPlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	err := s.bridge.Publish(plan)
	if err != nil {
		return err
	}
	s.emit(types.MessageFlightPlanPublished, types.FlightPlanEvent{ID: plan.ID, NumWaypoints: plan.NumWaypoints})
	return nil
}

func (s *Service) Connect() error {
	return s.bridge.Connect()
}

func (s *Service) Disconnect() error {
	return s.bridge.Disconnect()
}

func (s *Service) ConnectionStatus() bool {
	return s.bridge.Status()
}

func (s *Service) emit(messageType string, payload interface{}) {
	if s.post == nil {
		return
	}
	s.post(types.CreateMessage(messageType, s.name, "*", payload))
}
