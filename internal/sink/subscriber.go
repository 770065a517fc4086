package sink

import (
	"log"

	"Go2NetLogger/internal/config"

	"github.com/nats-io/nats.go"
)

// NoticeHandler processes one received batch notice.
type NoticeHandler func(n Notice)

// Subscriber receives batch notices from NATS.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.NATSConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Subscriber{nc: nc, subject: cfg.Subject}, nil
}

// Start subscribes and hands every decodable notice to handler.
func (s *Subscriber) Start(handler NoticeHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		n, err := DecodeNotice(msg.Data)
		if err != nil {
			log.Printf("Error decoding notice: %v", err)
			return
		}
		handler(n)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("Subscribed to '%s'. Waiting for notices...", s.subject)
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		log.Println("NATS connection closed.")
	}
}
