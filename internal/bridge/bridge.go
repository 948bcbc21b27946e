// Package bridge keeps the connection to the broker that relays flight plans
// to the autopilot service and confirms that the autopilot is alive.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/tiiuae/flightplanservice/internal/types"
)

var (
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrNotConnected      = errors.New("not connected to broker")
	ErrTransport         = errors.New("broker transport error")
)

const (
	DefaultConfirmTimeout = 2 * time.Second
	DefaultAppName        = "WebApp"
	DefaultAutopilotName  = "autopilotService"

	qos             = 1
	confirmationQoS = 2
	inboxSize       = 16
)

type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("ConnectionState(%d)", int32(s))
}

// Topics used between the service and the autopilot
type Topics struct {
	Connect      string
	Disconnect   string
	Confirmation string
	Dispatch     string
}

func DefaultTopics(appName string, autopilotName string) Topics {
	return Topics{
		Connect:      fmt.Sprintf("%s/%s/connect", appName, autopilotName),
		Disconnect:   fmt.Sprintf("%s/%s/disconnect", appName, autopilotName),
		Confirmation: fmt.Sprintf("%s/%s/telemetryInfo", autopilotName, appName),
		Dispatch:     fmt.Sprintf("%s/%s/executeFlightPlan", appName, autopilotName),
	}
}

type Config struct {
	Topics         Topics
	ConfirmTimeout time.Duration
	// Name is used as the sender of bus messages
	Name string
}

type inbound struct {
	topic   string
	payload []byte
}

// receiveLoop is one connect/disconnect cycle of the background receiver
type receiveLoop struct {
	cancel    context.CancelFunc
	done      chan struct{}
	confirmed chan struct{}
}

type Bridge struct {
	ctx       context.Context
	transport Transport
	cfg       Config
	post      types.PostFn

	state atomic.Int32

	// lifecycle serializes Connect and Disconnect
	lifecycle sync.Mutex

	// mu guards open and loop
	mu   sync.RWMutex
	open bool
	loop *receiveLoop
}

// New creates a disconnected bridge. Receive loops started by Connect run
// until Disconnect, a failed Connect or until ctx is done.
func New(ctx context.Context, transport Transport, cfg Config) *Bridge {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.Topics == (Topics{}) {
		cfg.Topics = DefaultTopics(DefaultAppName, DefaultAutopilotName)
	}
	if cfg.Name == "" {
		cfg.Name = "bridge"
	}
	return &Bridge{ctx: ctx, transport: transport, cfg: cfg}
}

// SetPost attaches a bus on which state transitions are posted
func (b *Bridge) SetPost(post types.PostFn) {
	b.post = post
}

func (b *Bridge) Status() bool {
	return b.State() == Connected
}

func (b *Bridge) State() ConnectionState {
	return ConnectionState(b.state.Load())
}

// Connect opens the transport, sends the connect handshake and waits for a
// confirmation from the autopilot. Without one within the confirm timeout
// everything is torn down again and ErrConnectionTimeout is returned.
func (b *Bridge) Connect() error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.State() == Connected {
		return nil
	}

	log.Printf("Connecting to broker")
	lost := make(chan error, 1)
	err := b.transport.Open(func(err error) {
		select {
		case lost <- err:
		default:
		}
	})
	if err != nil {
		return errors.Wrapf(ErrTransport, "open: %v", err)
	}

	inbox := make(chan inbound, inboxSize)
	err = b.transport.Subscribe(b.cfg.Topics.Confirmation, confirmationQoS, func(topic string, payload []byte) {
		select {
		case inbox <- inbound{topic, payload}:
		default:
			log.Printf("WARNING: bridge inbox full, dropping message on %s", topic)
		}
	})
	if err != nil {
		b.transport.Close()
		return errors.Wrapf(ErrTransport, "subscribe: %v", err)
	}

	loop := b.startReceiveLoop(inbox, lost)
	b.setState(Connecting)

	err = b.transport.Publish(b.cfg.Topics.Connect, qos, nil)
	if err != nil {
		b.teardown()
		b.setState(Disconnected)
		return errors.Wrapf(ErrTransport, "handshake: %v", err)
	}

	timer := time.NewTimer(b.cfg.ConfirmTimeout)
	defer timer.Stop()

	select {
	case <-loop.confirmed:
		log.Printf("Autopilot confirmed connection")
		return nil
	case <-timer.C:
		log.Printf("No message on %s within %v", b.cfg.Topics.Confirmation, b.cfg.ConfirmTimeout)
		b.teardown()
		b.setState(Disconnected)
		return errors.Wrapf(ErrConnectionTimeout, "no message on %s within %v", b.cfg.Topics.Confirmation, b.cfg.ConfirmTimeout)
	case <-b.ctx.Done():
		b.teardown()
		b.setState(Disconnected)
		return errors.Wrap(ErrTransport, "bridge shutting down")
	}
}

// Disconnect sends the disconnect handshake if the transport is open and
// closes it. It is safe to call in any state and never fails.
func (b *Bridge) Disconnect() error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.RLock()
	open := b.open
	b.mu.RUnlock()

	if open {
		err := b.transport.Publish(b.cfg.Topics.Disconnect, qos, nil)
		if err != nil {
			log.Printf("Could not send disconnect: %v", err)
		}
		b.teardown()
	}

	b.setState(Disconnected)
	return nil
}

// Publish sends the plan to the autopilot. Delivery is not acknowledged.
// Plans that fail Validate are never sent.
func (b *Bridge) Publish(plan *types.FlightPlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.open {
		return errors.Wrapf(ErrNotConnected, "cannot publish to %s", b.cfg.Topics.Dispatch)
	}

	payload, err := json.Marshal(plan)
	if err != nil {
		return errors.WithMessage(err, "Could not marshal flight plan")
	}

	err = b.transport.Publish(b.cfg.Topics.Dispatch, qos, payload)
	if err != nil {
		return errors.Wrapf(ErrTransport, "%v", err)
	}
	return nil
}

func (b *Bridge) startReceiveLoop(inbox <-chan inbound, lost <-chan error) *receiveLoop {
	ctx, cancel := context.WithCancel(b.ctx)
	loop := &receiveLoop{
		cancel:    cancel,
		done:      make(chan struct{}),
		confirmed: make(chan struct{}, 1),
	}

	b.mu.Lock()
	b.open = true
	b.loop = loop
	b.mu.Unlock()

	go b.runReceiveLoop(ctx, loop, inbox, lost)
	return loop
}

func (b *Bridge) runReceiveLoop(ctx context.Context, loop *receiveLoop, inbox <-chan inbound, lost <-chan error) {
	defer close(loop.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-inbox:
			b.handleInbound(msg, loop)
		case err := <-lost:
			// teardown waits for this loop, so it runs elsewhere
			go b.connectionLost(loop, err)
			return
		}
	}
}

// connectionLost tears down the connection served by loop, unless a
// Disconnect or a failed Connect already did
func (b *Bridge) connectionLost(loop *receiveLoop, err error) {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.RLock()
	current := b.loop
	b.mu.RUnlock()
	if current != loop {
		return
	}

	log.Printf("Broker connection lost: %v", err)
	b.teardown()
	b.setState(Disconnected)
}

// handleInbound only honours a confirmation while a Connect is waiting for
// one. Telemetry arriving once connected leaves the state alone.
func (b *Bridge) handleInbound(msg inbound, loop *receiveLoop) {
	if msg.topic != b.cfg.Topics.Confirmation {
		log.Printf("Unexpected message on %s", msg.topic)
		return
	}

	if !b.state.CompareAndSwap(int32(Connecting), int32(Connected)) {
		return
	}
	b.notify(Connected)

	select {
	case loop.confirmed <- struct{}{}:
	default:
	}
}

// teardown stops the receive loop and closes the transport
func (b *Bridge) teardown() {
	b.mu.Lock()
	loop := b.loop
	b.open = false
	b.loop = nil
	b.mu.Unlock()

	if loop != nil {
		loop.cancel()
		<-loop.done
	}
	b.transport.Close()
}

func (b *Bridge) setState(s ConnectionState) {
	old := ConnectionState(b.state.Swap(int32(s)))
	if old != s {
		b.notify(s)
	}
}

func (b *Bridge) notify(s ConnectionState) {
	log.Printf("Bridge state: %s", s)
	if b.post == nil {
		return
	}
	b.post(types.CreateMessage(types.MessageBridgeState, b.cfg.Name, "*", types.BridgeState{
		State:       s.String(),
		IsConnected: s == Connected,
	}))
}
