package compiler

import (
	"github.com/pkg/errors"
	"github.com/tiiuae/flightplanservice/internal/types"
)

// movingSegment is a moving video capture whose end is not known yet
type movingSegment struct {
	start types.Waypoint
	index int
}

// segmentState tracks at most one open moving video segment
type segmentState struct {
	open *movingSegment
}

func (s *segmentState) start(index int, at types.Waypoint) error {
	if s.open != nil {
		return errors.Wrapf(ErrInvalidSequence,
			"waypoint %d: video start while segment opened at waypoint %d is still running", index, s.open.index)
	}
	s.open = &movingSegment{start: at, index: index}
	return nil
}

func (s *segmentState) stop(index int, at types.Waypoint) (types.VideoPlan, error) {
	if s.open == nil {
		return types.VideoPlan{}, errors.Wrapf(ErrInvalidSequence, "waypoint %d: video stop without start", index)
	}
	plan := types.NewMovingVideo(s.open.start, at)
	s.open = nil
	return plan, nil
}

func (s *segmentState) finish() error {
	if s.open != nil {
		return errors.Wrapf(ErrInvalidSequence, "video started at waypoint %d is never stopped", s.open.index)
	}
	return nil
}
