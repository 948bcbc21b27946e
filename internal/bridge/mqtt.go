package bridge

import (
	"crypto/tls"
	"io/ioutil"
	"log"
	"net/url"
	"sync"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

// MQTT parameters
const (
	Retain          = false
	DefaultClientID = "fastApi"
	quiesceMillis   = 250
)

type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	PrivateKeyPath string
	Algorithm      string
	Audience       string
	ConnectTimeout time.Duration
}

type mqttTransport struct {
	client  mqtt.Client
	timeout time.Duration

	mu   sync.Mutex
	lost LostHandler
}

// NewMQTTTransport creates a paho client for the broker. When a private key
// is configured the password is a JWT signed with it.
func NewMQTTTransport(cfg MQTTConfig) (Transport, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	log.Printf("MQTT broker address: %v", cfg.Broker)
	log.Println("MQTT client ID:", cfg.ClientID)

	t := &mqttTransport{timeout: cfg.ConnectTimeout}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(false).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			log.Printf("MQTT connection lost: %v", err)
			t.connectionLost(err)
		}).
		SetProtocolVersion(4) // Use MQTT 3.1.1

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.PrivateKeyPath != "" {
		pass, err := signPassword(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetPassword(pass)
	}
	if needsTLS(cfg.Broker) {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	t.client = mqtt.NewClient(opts)
	return t, nil
}

func (t *mqttTransport) Open(lost LostHandler) error {
	t.mu.Lock()
	t.lost = lost
	t.mu.Unlock()

	log.Printf("Connecting MQTT...")
	tok := t.client.Connect()
	if !tok.WaitTimeout(t.timeout) {
		return errors.Errorf("no CONNACK within %v", t.timeout)
	}
	if err := tok.Error(); err != nil {
		return err
	}
	log.Printf("..Connected")
	return nil
}

func (t *mqttTransport) Subscribe(topic string, qos byte, handler MessageHandler) error {
	tok := t.client.Subscribe(topic, qos, func(client mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !tok.WaitTimeout(t.timeout) {
		return errors.Errorf("subscribe to %s not acknowledged within %v", topic, t.timeout)
	}
	return errors.WithMessagef(tok.Error(), "subscribe to %s", topic)
}

// Publish does not wait for the broker to acknowledge the message
func (t *mqttTransport) Publish(topic string, qos byte, payload []byte) error {
	if payload == nil {
		payload = []byte{}
	}
	tok := t.client.Publish(topic, qos, Retain, payload)
	return errors.WithMessagef(tok.Error(), "publish to %s", topic)
}

func (t *mqttTransport) Close() {
	t.mu.Lock()
	t.lost = nil
	t.mu.Unlock()

	if t.client.IsConnected() {
		t.client.Disconnect(quiesceMillis)
	}
}

func (t *mqttTransport) connectionLost(err error) {
	t.mu.Lock()
	lost := t.lost
	t.mu.Unlock()

	if lost != nil {
		lost(err)
	}
}

func needsTLS(broker string) bool {
	u, err := url.Parse(broker)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "ssl", "tls", "mqtts", "wss":
		return true
	}
	return false
}

// signPassword generates a JWT to be used as the MQTT password
func signPassword(cfg MQTTConfig) (string, error) {
	keyData, err := ioutil.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return "", errors.WithMessage(err, "Could not read private key")
	}

	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = "RS256"
	}

	var key interface{}
	switch algorithm {
	case "RS256":
		key, err = jwt.ParseRSAPrivateKeyFromPEM(keyData)
	case "ES256":
		key, err = jwt.ParseECPrivateKeyFromPEM(keyData)
	default:
		return "", errors.Errorf("Unknown algorithm: %s", algorithm)
	}
	if err != nil {
		return "", errors.WithMessage(err, "Could not parse private key")
	}

	t := time.Now()
	token := jwt.NewWithClaims(jwt.GetSigningMethod(algorithm), &jwt.StandardClaims{
		IssuedAt:  t.Unix(),
		ExpiresAt: t.Add(24 * time.Hour).Unix(),
		Audience:  cfg.Audience,
	})
	return token.SignedString(key)
}
