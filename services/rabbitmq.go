package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/fxamacker/cbor/v2"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	chatRoutingKey = "chat.push"
	chatBindingKey = "chat.*"
)

// Envelope - событие в шине: кадр и список адресатов
type Envelope struct {
	Targets []int64 `cbor:"1,keyasint"`
	Frame   []byte  `cbor:"2,keyasint"`
	Origin  string  `cbor:"3,keyasint"`
}

var (
	envelopeEncMode cbor.EncMode
	envelopeDecMode cbor.DecMode
)

func init() {
	var err error
	envelopeEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cbor encoder initialization failed: " + err.Error())
	}
	envelopeDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cbor decoder initialization failed: " + err.Error())
	}
}

func EncodeEnvelope(env Envelope) ([]byte, error) {
	return envelopeEncMode.Marshal(env)
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := envelopeDecMode.Unmarshal(data, &env)
	return env, err
}

// RabbitBus - шина событий между инстансами. Каждый инстанс слушает свою
// эксклюзивную очередь и доставляет полученные кадры в локальные сессии.
type RabbitBus struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	instanceID string
	mu         sync.Mutex
}

// InitRabbitMQ инициализирует соединение и exchange; instanceID задает имя очереди инстанса
func InitRabbitMQ(url, exchange, instanceID string) (*RabbitBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // args
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	log.Printf("RabbitMQ initialized, exchange %s", exchange)
	return &RabbitBus{
		conn:       conn,
		channel:    ch,
		exchange:   exchange,
		instanceID: instanceID,
	}, nil
}

func (b *RabbitBus) Publish(ctx context.Context, targets []int64, frame []byte) error {
	body, err := EncodeEnvelope(Envelope{Targets: targets, Frame: frame, Origin: b.instanceID})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel.PublishWithContext(ctx,
		b.exchange,
		chatRoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/cbor",
			Body:        body,
		},
	)
}

// StartConsumer объявляет очередь инстанса и передает полученные кадры в registry
func (b *RabbitBus) StartConsumer(ctx context.Context, registry *SessionRegistry) error {
	q, err := b.channel.QueueDeclare(
		"chat.instance."+b.instanceID,
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := b.channel.QueueBind(q.Name, chatBindingKey, b.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	msgs, err := b.channel.Consume(
		q.Name,
		"",
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					log.Println("WARN: RabbitMQ consumer channel closed")
					return
				}
				env, err := DecodeEnvelope(msg.Body)
				if err != nil {
					log.Println("ERROR: failed to decode chat envelope:", err)
					continue
				}
				delivered := registry.Deliver(env.Targets, env.Frame)
				eventsDelivered.WithLabelValues("broker").Add(float64(delivered))
				Debugf("envelope from %s delivered to %d sessions", env.Origin, delivered)
			}
		}
	}()
	return nil
}

func (b *RabbitBus) Close() error {
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
