package types

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidPlan is returned for a flight plan whose counts or video
// segments do not match its contents
var ErrInvalidPlan = errors.New("invalid flight plan")

// Collections used by the persistence layer
const (
	CollectionFlightPlans = "flight_plans"
	CollectionFlights     = "flights"
	CollectionPictures    = "pictures"
	CollectionVideos      = "videos"
)

// WaypointInput is a single entry of the operator's raw waypoint list
type WaypointInput struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Height      float64 `json:"height"`
	TakePic     bool    `json:"takePic"`
	VideoStart  bool    `json:"videoStart"`
	VideoStop   bool    `json:"videoStop"`
	StaticVideo bool    `json:"staticVideo"`
}

// WaypointData is the body of an add-waypoints request
type WaypointData struct {
	Waypoints   []WaypointInput `json:"waypoints"`
	PicInterval float64         `json:"PicInterval"`
	VidInterval float64         `json:"VidInterval"`
}

type Waypoint struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Height float64 `json:"height"`
}

type VideoMode string

const (
	VideoModeMoving VideoMode = "moving"
	VideoModeStatic VideoMode = "static"
)

type MovingVideo struct {
	LatStart float64 `json:"latStart"`
	LonStart float64 `json:"lonStart"`
	LatEnd   float64 `json:"latEnd"`
	LonEnd   float64 `json:"lonEnd"`
}

type StaticVideo struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Length float64 `json:"length"`
}

// VideoPlan is either a moving capture between two waypoints or a fixed
// length capture at one waypoint. Exactly one of Moving and Static is set,
// matching Mode. Use NewMovingVideo or NewStaticVideo to build one.
type VideoPlan struct {
	Mode   VideoMode
	Moving *MovingVideo
	Static *StaticVideo
}

func NewMovingVideo(start Waypoint, end Waypoint) VideoPlan {
	return VideoPlan{
		Mode: VideoModeMoving,
		Moving: &MovingVideo{
			LatStart: start.Lat,
			LonStart: start.Lon,
			LatEnd:   end.Lat,
			LonEnd:   end.Lon,
		},
	}
}

func NewStaticVideo(at Waypoint, length float64) VideoPlan {
	return VideoPlan{
		Mode:   VideoModeStatic,
		Static: &StaticVideo{Lat: at.Lat, Lon: at.Lon, Length: length},
	}
}

// MarshalJSON flattens the variant into {"mode": ..., <variant fields>}
func (v VideoPlan) MarshalJSON() ([]byte, error) {
	switch {
	case v.Mode == VideoModeMoving && v.Moving != nil:
		return json.Marshal(struct {
			Mode VideoMode `json:"mode"`
			MovingVideo
		}{v.Mode, *v.Moving})
	case v.Mode == VideoModeStatic && v.Static != nil:
		return json.Marshal(struct {
			Mode VideoMode `json:"mode"`
			StaticVideo
		}{v.Mode, *v.Static})
	}
	return nil, errors.Errorf("incomplete video plan (mode %q)", v.Mode)
}

// UnmarshalJSON requires every coordinate of the variant to be present
func (v *VideoPlan) UnmarshalJSON(data []byte) error {
	var raw struct {
		Mode     VideoMode `json:"mode"`
		LatStart *float64  `json:"latStart"`
		LonStart *float64  `json:"lonStart"`
		LatEnd   *float64  `json:"latEnd"`
		LonEnd   *float64  `json:"lonEnd"`
		Lat      *float64  `json:"lat"`
		Lon      *float64  `json:"lon"`
		Length   *float64  `json:"length"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.Mode {
	case VideoModeMoving:
		if raw.LatStart == nil || raw.LonStart == nil || raw.LatEnd == nil || raw.LonEnd == nil {
			return errors.Wrap(ErrInvalidPlan, "moving video needs latStart, lonStart, latEnd and lonEnd")
		}
		*v = VideoPlan{Mode: raw.Mode, Moving: &MovingVideo{
			LatStart: *raw.LatStart,
			LonStart: *raw.LonStart,
			LatEnd:   *raw.LatEnd,
			LonEnd:   *raw.LonEnd,
		}}
	case VideoModeStatic:
		if raw.Lat == nil || raw.Lon == nil || raw.Length == nil {
			return errors.Wrap(ErrInvalidPlan, "static video needs lat, lon and length")
		}
		*v = VideoPlan{Mode: raw.Mode, Static: &StaticVideo{Lat: *raw.Lat, Lon: *raw.Lon, Length: *raw.Length}}
	default:
		return errors.Wrapf(ErrInvalidPlan, "unknown video mode %q", raw.Mode)
	}
	return nil
}

func (v VideoPlan) valid() bool {
	switch v.Mode {
	case VideoModeMoving:
		return v.Moving != nil && v.Static == nil
	case VideoModeStatic:
		return v.Static != nil && v.Moving == nil
	}
	return false
}

type FlightPlan struct {
	ID              string      `json:"id"`
	NumWaypoints    int         `json:"NumWaypoints"`
	FlightWaypoints []Waypoint  `json:"FlightWaypoints"`
	NumPics         int         `json:"NumPics"`
	PicsWaypoints   []Waypoint  `json:"PicsWaypoints"`
	NumVids         int         `json:"NumVids"`
	VidWaypoints    []VideoPlan `json:"VidWaypoints"`
	PicInterval     float64     `json:"PicInterval"`
}

// Validate checks that the counts match the waypoint lists and that every
// video segment is complete
func (fp *FlightPlan) Validate() error {
	switch {
	case fp.NumWaypoints != len(fp.FlightWaypoints):
		return errors.Wrapf(ErrInvalidPlan, "NumWaypoints is %d but there are %d waypoints", fp.NumWaypoints, len(fp.FlightWaypoints))
	case fp.NumPics != len(fp.PicsWaypoints):
		return errors.Wrapf(ErrInvalidPlan, "NumPics is %d but there are %d picture waypoints", fp.NumPics, len(fp.PicsWaypoints))
	case fp.NumVids != len(fp.VidWaypoints):
		return errors.Wrapf(ErrInvalidPlan, "NumVids is %d but there are %d video segments", fp.NumVids, len(fp.VidWaypoints))
	}
	for i, v := range fp.VidWaypoints {
		if !v.valid() {
			return errors.Wrapf(ErrInvalidPlan, "video segment %d is incomplete", i)
		}
	}
	return nil
}

func (fp *FlightPlan) EntityID() string      { return fp.ID }
func (fp *FlightPlan) SetEntityID(id string) { fp.ID = id }

// Picture is an image captured by the vehicle during a flight
type Picture struct {
	ID     string  `json:"id"`
	Name   string  `json:"namePicture"`
	Lat    float64 `json:"latImage"`
	Lon    float64 `json:"lonImage"`
	Height float64 `json:"altImage"`
}

func (p *Picture) EntityID() string      { return p.ID }
func (p *Picture) SetEntityID(id string) { p.ID = id }

// Video is a clip recorded by the vehicle during a flight
type Video struct {
	ID       string  `json:"id"`
	Name     string  `json:"nameVideo"`
	LatStart float64 `json:"latVideoStart,omitempty"`
	LonStart float64 `json:"lonVideoStart,omitempty"`
	LatEnd   float64 `json:"latVideoEnd,omitempty"`
	LonEnd   float64 `json:"lonVideoEnd,omitempty"`
	Lat      float64 `json:"latVideo,omitempty"`
	Lon      float64 `json:"lonVideo,omitempty"`
}

func (v *Video) EntityID() string      { return v.ID }
func (v *Video) SetEntityID(id string) { v.ID = id }

// Flight is an executed flight plan with references to its media
type Flight struct {
	ID           string    `json:"id"`
	Date         time.Time `json:"Date"`
	FlightPlanID string    `json:"FlightPlan"`
	PictureIDs   []string  `json:"Pictures"`
	VideoIDs     []string  `json:"Videos"`
}

func (f *Flight) EntityID() string      { return f.ID }
func (f *Flight) SetEntityID(id string) { f.ID = id }

// FlightDetails is a Flight with its references expanded
type FlightDetails struct {
	ID         string      `json:"id"`
	Date       time.Time   `json:"Date"`
	FlightPlan *FlightPlan `json:"FlightPlan"`
	Pictures   []Picture   `json:"Pictures"`
	Videos     []Video     `json:"Videos"`
}
