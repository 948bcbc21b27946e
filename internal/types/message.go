package types

import (
	"time"

	"github.com/google/uuid"
)

// Message types posted on the service bus
const (
	MessageBridgeState         = "bridge-state"
	MessageFlightPlanCreated   = "flight-plan-created"
	MessageFlightPlanPublished = "flight-plan-published"
	MessageFlightRecorded      = "flight-recorded"
)

type Message struct {
	Timestamp   time.Time   `json:"timestamp"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	ID          string      `json:"id"`
	MessageType string      `json:"message_type"`
	Message     interface{} `json:"message"`
}

func CreateMessage(messageType, from, to string, message interface{}) Message {
	return Message{
		time.Now().UTC(),
		from,
		to,
		uuid.New().String(),
		messageType,
		message,
	}
}

// BridgeState is the payload of a bridge-state message
type BridgeState struct {
	State       string `json:"state"`
	IsConnected bool   `json:"is_connected"`
}

// FlightPlanEvent is the payload of flight plan messages
type FlightPlanEvent struct {
	ID           string `json:"id"`
	NumWaypoints int    `json:"num_waypoints"`
}
