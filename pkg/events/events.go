package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/milkyano/barber-core/pkg/logger"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type NATSEventBus struct {
	conn *nats.Conn
}

// NewNATSEventBus connects in the background: a broker that is down at startup
// does not stop the service, publishes are buffered until it reconnects.
func NewNATSEventBus(url, name string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "bytes", len(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

// Subjects
const (
	UserRegistered   = "user.registered"
	UserVerified     = "user.verified"
	UserPhoneChanged = "user.phone_changed"
	UserDeleted      = "user.deleted"
	CustomerLinked   = "customer.linked"
)

type UserRegisteredEvent struct {
	UserID      string    `json:"userId"`
	Role        string    `json:"role"`
	PhoneNumber string    `json:"phoneNumber"`
	CreatedAt   time.Time `json:"createdAt"`
}

type UserVerifiedEvent struct {
	UserID      string    `json:"userId"`
	PhoneNumber string    `json:"phoneNumber"`
	VerifiedAt  time.Time `json:"verifiedAt"`
}

type UserPhoneChangedEvent struct {
	UserID   string    `json:"userId"`
	OldPhone string    `json:"oldPhone"`
	NewPhone string    `json:"newPhone"`
	At       time.Time `json:"at"`
}

type UserDeletedEvent struct {
	UserID    string    `json:"userId"`
	DeletedAt time.Time `json:"deletedAt"`
}

type CustomerLinkedEvent struct {
	UserID             string    `json:"userId"`
	ExternalCustomerID string    `json:"externalCustomerId"`
	LinkedAt           time.Time `json:"linkedAt"`
}
