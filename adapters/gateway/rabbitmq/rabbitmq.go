package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/Go-routine-4595/vehicle-diag/model"
)

type RabbitMQConfig struct {
	ConnectionString string `yaml:"ConnectionString"`
	QueueName        string `yaml:"QueueName"`
}

// RabbitMQ delivers warning events to the diagnostic gateway queue. It is
// registered as a static event subscriber; publication is decoupled from
// the ingestion path through an internal channel so a broker hiccup never
// stalls an evaluation tick. When the buffer fills during an outage the
// newest events are dropped rather than blocking the caller.
type RabbitMQ struct {
	ConnectionString string
	QueueName        string
	msgs             chan []byte
	logger           zerolog.Logger
	conn             *amqp.Connection
	ch               *amqp.Channel
}

func NewRabbitMQ(config RabbitMQConfig) *RabbitMQ {
	return &RabbitMQ{
		msgs:             make(chan []byte, 16),
		ConnectionString: config.ConnectionString,
		QueueName:        config.QueueName,
		logger:           zerolog.New(os.Stdout).Level(zerolog.Level(zerolog.DebugLevel)).With().Timestamp().Logger(),
	}
}

// PublishWarning queues one warning event for delivery.
func (r *RabbitMQ) PublishWarning(ev model.WarningEvent) error {
	var (
		msg []byte
		err error
	)

	msg, err = json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case r.msgs <- msg:
		return nil
	default:
		r.logger.Warn().Uint16("code", uint16(ev.Code)).Msg("publish buffer full, warning event dropped")
		return errors.New("publish buffer full, warning event dropped")
	}
}

// connect establishes a new connection and channel
func (r *RabbitMQ) connect() error {
	var (
		err error
	)
	r.conn, err = amqp.Dial(r.ConnectionString)
	if err != nil {
		return err
	}

	r.ch, err = r.conn.Channel()
	if err != nil {
		return err
	}

	_, err = r.ch.QueueDeclare(
		r.QueueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return err
	}

	return nil
}

// reconnect handles reconnection logic
func (r *RabbitMQ) reconnect() {
	for {
		r.logger.Info().Msg("Attempting to reconnect to RabbitMQ...")
		err := r.connect()
		if err == nil {
			r.logger.Info().Msg("Successfully reconnected to RabbitMQ...")
			break
		}
		r.logger.Error().Err(err).Msg("Reconnect failed")
		time.Sleep(5 * time.Second)
	}
}

// Start connects and launches the publish loop.
func (r *RabbitMQ) Start(ctx context.Context, wg *sync.WaitGroup) {
	var err error

	err = r.connect()
	if err != nil {
		r.logger.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	go r.consume(ctx, wg)
}

// Close gracefully shuts down the connection and channel
func (r *RabbitMQ) Close() error {
	var err error

	err = r.conn.Close()
	if err != nil {
		return err
	}

	return nil
}

func (r *RabbitMQ) consume(ctx context.Context, wg *sync.WaitGroup) {
	var (
		err error
	)
	wg.Add(1)

	go func() {
		for msg := range r.msgs {
			err = r.ch.Publish(
				"",          // Exchange
				r.QueueName, // Routing key (queue name)
				false,       // Mandatory
				false,       // Immediate
				amqp.Publishing{
					ContentType: "application/json",
					Body:        msg,
				},
			)
			if err != nil {
				r.logger.Error().Err(err).Msg("Failed to publish a warning event")
				r.reconnect()
			}
		}
	}()

	r.logger.Info().Msg("Waiting")
	<-ctx.Done()
	// disconnect gracefully and leave
	r.Close()
	r.logger.Info().Msg("Received interrupt signal, closing connection")
	wg.Done()
}
