package types

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

// logger prints bus messages except the types it was told to skip
type logger struct {
	skip map[string]bool
}

// NewLogger returns a bus handler that logs every message whose type is not
// in skip
func NewLogger(skip ...string) MessageHandler {
	l := &logger{skip: make(map[string]bool, len(skip))}
	for _, t := range skip {
		l.skip[t] = true
	}
	return l
}

func (l *logger) Receive(message Message) {
	if l.skip[message.MessageType] {
		return
	}

	b, err := json.Marshal(message.Message)
	if err != nil {
		log.Printf("Bus %s from %s: unprintable payload: %v", message.MessageType, message.From, err)
		return
	}
	log.Printf("Bus %s from %s: %s", message.MessageType, message.From, b)
}

func (l *logger) Run(ctx context.Context, wg *sync.WaitGroup, post PostFn) {
}
