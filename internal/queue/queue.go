package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loreforge/loreforge/backend/internal/util"
	"github.com/loreforge/loreforge/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// RebuildQueueName carries rebuild jobs from trigger to worker.
const RebuildQueueName = "rebuild_queue"

func Init() *amqp091.Connection {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnv("RABBITMQ_HOST")
	port := util.GetEnv("RABBITMQ_PORT")

	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		user,
		pass,
		host,
		port,
	)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}

	return conn
}

// SetupQueues declares each work queue together with its dead-letter queue
// and a TTL-based retry queue that feeds messages back after a delay.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	for _, name := range queueNames {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", name, err)
		}

		dlqName := name + "_dlq"
		_, err = ch.QueueDeclare(
			dlqName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(10000),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", retryName, err)
		}
	}

	return nil
}

func PublishFIFO(ch *amqp091.Channel, queueName string, data []byte) error {
	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.Publish(
		"",
		q.Name,
		false,
		false,
		publishing,
	)
}

// RebuildJobMsg is the wire form of one rebuild job. Delivery is
// at-least-once; the executor is idempotent per rebuild id.
type RebuildJobMsg struct {
	RebuildID  string `json:"rebuild_id"`
	CampaignID int64  `json:"campaign_id"`
}

// RebuildPublisher implements the engine's RebuildQueue on AMQP.
type RebuildPublisher struct {
	ch *amqp091.Channel
}

func NewRebuildPublisher(ch *amqp091.Channel) *RebuildPublisher {
	return &RebuildPublisher{ch: ch}
}

func (p *RebuildPublisher) EnqueueRebuild(ctx context.Context, rebuildID string, campaignID int64) error {
	data, err := json.Marshal(RebuildJobMsg{RebuildID: rebuildID, CampaignID: campaignID})
	if err != nil {
		return fmt.Errorf("failed to marshal rebuild job: %w", err)
	}
	return PublishFIFO(p.ch, RebuildQueueName, data)
}
