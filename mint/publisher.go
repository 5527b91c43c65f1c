package mint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/slavaghoul1337-coder/genge/logger"
	"github.com/slavaghoul1337-coder/genge/types"
)

// Authorization is handed to the minting worker once a claim is verified.
type Authorization struct {
	ID           uuid.UUID    `json:"id"`
	Wallet       string       `json:"wallet"`
	TxHash       string       `json:"txHash"`
	Quantity     int          `json:"quantity"`
	Reason       types.Reason `json:"reason"`
	AuthorizedAt time.Time    `json:"authorizedAt"`
}

func NewAuthorization(claim *types.PaymentClaim, quantity int, reason types.Reason) Authorization {
	return Authorization{
		ID:           uuid.New(),
		Wallet:       claim.PayerWallet,
		TxHash:       types.NormalizeTxRef(claim.TxRef),
		Quantity:     quantity,
		Reason:       reason,
		AuthorizedAt: time.Now().UTC(),
	}
}

// Publisher delivers mint authorizations downstream.
type Publisher interface {
	Publish(ctx context.Context, auth Authorization) error
	Close()
}

// LogPublisher only logs; used when RabbitMQ is not configured or unreachable at startup.
type LogPublisher struct {
	Logger logger.Logger
}

func (p *LogPublisher) Publish(_ context.Context, auth Authorization) error {
	if p.Logger != nil {
		p.Logger.Warn("mint authorization not forwarded, no broker configured", map[string]any{
			"mode":     "fallback",
			"id":       auth.ID.String(),
			"wallet":   auth.Wallet,
			"tx_hash":  auth.TxHash,
			"quantity": auth.Quantity,
		})
	}
	return nil
}

func (p *LogPublisher) Close() {}

// AMQPPublisher publishes authorizations to a durable topic exchange.
type AMQPPublisher struct {
	mu         sync.Mutex
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	exchange   string
	routingKey string
	logger     logger.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewAMQPPublisher dials amqpURL with a bounded timeout and declares the exchange.
func NewAMQPPublisher(amqpURL, exchange, routingKey string, log logger.Logger) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NoopLogger{}
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p := &AMQPPublisher{
		conn:       conn,
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     log.With(map[string]any{"component": "mint_publisher"}),
	}
	if err := p.declare(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// NewPublisher returns an AMQPPublisher, or a LogPublisher when amqpURL is empty or unreachable.
func NewPublisher(amqpURL, exchange, routingKey string, log logger.Logger) Publisher {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if strings.TrimSpace(amqpURL) == "" {
		return &LogPublisher{Logger: log}
	}
	p, err := NewAMQPPublisher(amqpURL, exchange, routingKey, log)
	if err != nil {
		log.Warn("rabbitmq unavailable, mint authorizations will only be logged", map[string]any{"err": err})
		return &LogPublisher{Logger: log}
	}
	return p
}

func (p *AMQPPublisher) declare() error {
	return p.channel.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	)
}

// reopen replaces a closed channel once. Callers hold p.mu.
func (p *AMQPPublisher) reopen() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	return p.declare()
}

func (p *AMQPPublisher) Publish(ctx context.Context, auth Authorization) error {
	body, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("failed to encode authorization: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    auth.ID.String(),
		Timestamp:    time.Now(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, msg)
	if err == nil {
		return nil
	}

	p.logger.Warn("publish failed; reopening channel", map[string]any{"tx_hash": auth.TxHash, "err": err})
	if reopenErr := p.reopen(); reopenErr != nil {
		return fmt.Errorf("publish mint authorization: %w", errors.Join(err, reopenErr))
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish mint authorization: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
