// Package compiler turns the operator's flat waypoint list into a FlightPlan.
package compiler

import (
	"math"

	"github.com/pkg/errors"
	"github.com/tiiuae/flightplanservice/internal/types"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrInvalidSequence = errors.New("invalid video sequence")
)

// Compile builds a FlightPlan from waypoints. Pictures and videos keep the
// order in which their waypoints appear. A video stop without a start, a
// second start while a segment is open or a segment left open at the end
// fail with ErrInvalidSequence.
func Compile(waypoints []types.WaypointInput, picInterval float64, vidInterval float64) (*types.FlightPlan, error) {
	err := validate(waypoints, picInterval, vidInterval)
	if err != nil {
		return nil, err
	}

	plan := &types.FlightPlan{
		FlightWaypoints: make([]types.Waypoint, 0, len(waypoints)),
		PicsWaypoints:   make([]types.Waypoint, 0),
		VidWaypoints:    make([]types.VideoPlan, 0),
		PicInterval:     picInterval,
	}

	var segments segmentState
	for i, w := range waypoints {
		waypoint := types.Waypoint{Lat: w.Lat, Lon: w.Lon, Height: w.Height}
		plan.FlightWaypoints = append(plan.FlightWaypoints, waypoint)

		if w.TakePic {
			plan.PicsWaypoints = append(plan.PicsWaypoints, waypoint)
		}

		if w.VideoStart {
			if err := segments.start(i, waypoint); err != nil {
				return nil, err
			}
		}
		if w.VideoStop {
			video, err := segments.stop(i, waypoint)
			if err != nil {
				return nil, err
			}
			plan.VidWaypoints = append(plan.VidWaypoints, video)
		}
		if w.StaticVideo {
			plan.VidWaypoints = append(plan.VidWaypoints, types.NewStaticVideo(waypoint, vidInterval))
		}
	}

	if err := segments.finish(); err != nil {
		return nil, err
	}

	plan.NumWaypoints = len(plan.FlightWaypoints)
	plan.NumPics = len(plan.PicsWaypoints)
	plan.NumVids = len(plan.VidWaypoints)

	return plan, nil
}

func validate(waypoints []types.WaypointInput, picInterval float64, vidInterval float64) error {
	if !finite(picInterval) || picInterval < 0 {
		return errors.Wrapf(ErrValidation, "PicInterval must be a non-negative number, got %v", picInterval)
	}
	if !finite(vidInterval) || vidInterval < 0 {
		return errors.Wrapf(ErrValidation, "VidInterval must be a non-negative number, got %v", vidInterval)
	}
	for i, w := range waypoints {
		if !finite(w.Lat) || !finite(w.Lon) || !finite(w.Height) {
			return errors.Wrapf(ErrValidation, "waypoint %d: coordinates must be finite numbers", i)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
