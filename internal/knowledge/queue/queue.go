// Package queue carries asynchronous ingestion tasks over Kafka. Uploads are
// archived to object storage first; a task references the archived object so
// the consumer can replay the ingestion later.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"Athena/internal/models"
	"Athena/pkg/logger"
)

// IngestTask 是发布到摄取主题上的消息体。
type IngestTask struct {
	DocumentID     string `json:"document_id"`
	CollectionName string `json:"collection_name"`
	ObjectPath     string `json:"object_path"`
	FileName       string `json:"file_name"`
}

// Publisher 封装了向 Kafka 发送摄取任务的逻辑。
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher 创建一个新的 Publisher 实例。
func NewPublisher(writer *kafka.Writer) *Publisher {
	return &Publisher{writer: writer}
}

// Publish 将摄取任务序列化为 JSON 并发送到 Kafka。
func (p *Publisher) Publish(ctx context.Context, task *IngestTask) error {
	jsonData, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal ingest task: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.DocumentID),
		Value: jsonData,
	})
	if err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

// Consumer pulls ingestion tasks off the topic and hands them to a handler.
type Consumer struct {
	reader *kafka.Reader
	log    *logger.Logger
}

// NewConsumer creates a new Consumer around an existing reader.
func NewConsumer(reader *kafka.Reader, log *logger.Logger) *Consumer {
	return &Consumer{reader: reader, log: log}
}

// Start begins consuming tasks until the context is cancelled. Handler
// errors are logged and the message is committed anyway: the document row
// keeps the failure state, so redelivering the task would only repeat the
// same failure.
func (c *Consumer) Start(ctx context.Context, handler func(context.Context, *IngestTask) error) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				c.log.Info("Stopping ingest task consumer...")
				return
			default:
				msg, err := c.reader.FetchMessage(ctx)
				if err != nil {
					if ctx.Err() == nil {
						c.log.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error fetching message from Kafka")
					}
					continue
				}

				var task IngestTask
				if err := json.Unmarshal(msg.Value, &task); err != nil {
					c.log.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{
						"topic":     msg.Topic,
						"partition": msg.Partition,
						"offset":    msg.Offset,
					}).Error("Discarding malformed ingest task")
				} else if err := handler(ctx, &task); err != nil {
					c.log.WithDocument(task.DocumentID).WithError(models.ErrorInfo{Message: err.Error()}).Error("Ingest task failed")
				}

				if err := c.reader.CommitMessages(ctx, msg); err != nil {
					c.log.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to commit Kafka message")
				}
			}
		}
	}()
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
