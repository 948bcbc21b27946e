package bridge

// MessageHandler is called for every message arriving on a subscribed topic.
// It may be called from any goroutine.
type MessageHandler func(topic string, payload []byte)

// LostHandler is called when an open transport drops without Close being
// called
type LostHandler func(err error)

// Transport is the pub/sub connection the bridge drives. Open and Close may
// be called repeatedly over the life of a Transport.
type Transport interface {
	Open(lost LostHandler) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Publish(topic string, qos byte, payload []byte) error
	Close()
}
