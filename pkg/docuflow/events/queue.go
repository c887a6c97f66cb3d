package events

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// QueueConfig locates the storage queue carrying blob events.
type QueueConfig struct {
	ServiceURL       string // https://<account>.queue.core.windows.net
	ConnectionString string
	QueueName        string

	BatchSize         int32         // messages per dequeue, at most 32
	VisibilityTimeout time.Duration // must exceed the processing time of a batch
	MaxDequeueCount   int64         // messages seen more often are dropped
}

// NewQueueClient creates a queue client from a connection string or, failing
// that, from the service URL and the default Azure credential chain.
func NewQueueClient(cfg QueueConfig) (*azqueue.QueueClient, error) {
	if cfg.QueueName == "" {
		return nil, errors.New("EVENT_QUEUE_NAME is not configured")
	}
	if cfg.ConnectionString != "" {
		return azqueue.NewQueueClientFromConnectionString(cfg.ConnectionString, cfg.QueueName, nil)
	}
	if cfg.ServiceURL == "" {
		return nil, errors.New("queue service url is not configured")
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("loading Azure credentials: %w", err)
	}
	return azqueue.NewQueueClient(strings.TrimRight(cfg.ServiceURL, "/")+"/"+cfg.QueueName, cred, nil)
}

// queueAPI is the subset of *azqueue.QueueClient the poller calls.
type queueAPI interface {
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// QueueSource polls an Azure Storage queue fed by an Event Grid subscription.
// A message is deleted once all of its events were handled; a failed message
// becomes visible again after the visibility timeout and is retried until
// MaxDequeueCount is exceeded.
type QueueSource struct {
	client  queueAPI
	handler Handler
	config  QueueConfig
	logger  *slog.Logger
	tracer  trace.Tracer

	idleWait  time.Duration
	errorWait time.Duration
}

// NewQueueSource creates a poller on client.
func NewQueueSource(client *azqueue.QueueClient, handler Handler, cfg QueueConfig, logger *slog.Logger) *QueueSource {
	return newQueueSource(client, handler, cfg, logger)
}

func newQueueSource(client queueAPI, handler Handler, cfg QueueConfig, logger *slog.Logger) *QueueSource {
	if cfg.BatchSize <= 0 || cfg.BatchSize > 32 {
		cfg.BatchSize = 8
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	if cfg.MaxDequeueCount <= 0 {
		cfg.MaxDequeueCount = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueSource{
		client:    client,
		handler:   handler,
		config:    cfg,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		idleWait:  time.Second,
		errorWait: 5 * time.Second,
	}
}

// Run polls until ctx is cancelled.
func (q *QueueSource) Run(ctx context.Context) error {
	q.logger.Info("Starting queue polling loop", "queue", q.config.QueueName)
	for {
		n, err := q.poll(ctx)
		wait := time.Duration(0)
		switch {
		case err != nil:
			q.logger.Error("Failed to receive messages from queue", "err", err)
			wait = q.errorWait
		case n == 0:
			wait = q.idleWait
		}

		select {
		case <-ctx.Done():
			q.logger.Info("Queue polling loop stopped")
			return nil
		case <-time.After(wait):
		}
	}
}

// poll dequeues one batch and handles its messages concurrently.
func (q *QueueSource) poll(ctx context.Context) (int, error) {
	dequeueCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	visibility := int32(q.config.VisibilityTimeout / time.Second)
	result, err := q.client.DequeueMessages(dequeueCtx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  &q.config.BatchSize,
		VisibilityTimeout: &visibility,
	})
	cancel()
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	g.SetLimit(int(q.config.BatchSize))
	for _, message := range result.Messages {
		if message == nil || message.MessageID == nil || message.PopReceipt == nil {
			continue
		}
		g.Go(func() error {
			q.handleMessage(ctx, message)
			return nil
		})
	}
	_ = g.Wait()
	return len(result.Messages), nil
}

func (q *QueueSource) handleMessage(ctx context.Context, message *azqueue.DequeuedMessage) {
	ctx, span := q.tracer.Start(ctx, "QueueSource.handleMessage")
	defer span.End()

	logger := q.logger.With("message_id", *message.MessageID)

	if message.DequeueCount != nil && *message.DequeueCount > q.config.MaxDequeueCount {
		logger.Error("Dropping message after repeated failures", "dequeue_count", *message.DequeueCount)
		q.delete(ctx, message, logger)
		return
	}

	var text string
	if message.MessageText != nil {
		text = *message.MessageText
	}
	evs, err := decodeEvents(decodeIfBase64(text))
	if err != nil {
		logger.Error("Dropping undecodable message", "err", err, "message_content", text)
		q.delete(ctx, message, logger)
		return
	}

	for _, ev := range evs {
		eventsReceived.WithLabelValues("queue").Inc()
		if _, err := q.handler.HandleEvent(ctx, ev); err != nil {
			logger.Error("Failed to handle queued event", "event_id", ev.ID, "err", err)
			return
		}
	}
	q.delete(ctx, message, logger)
}

func (q *QueueSource) delete(ctx context.Context, message *azqueue.DequeuedMessage, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := q.client.DeleteMessage(ctx, *message.MessageID, *message.PopReceipt, nil); err != nil {
		logger.Error("Failed to delete queue message", "err", err)
	}
}

// Event Grid queue deliveries are base64 encoded.
func decodeIfBase64(s string) []byte {
	if len(s)%4 != 0 {
		return []byte(s)
	}
	for _, c := range s {
		if !(('A' <= c && c <= 'Z') ||
			('a' <= c && c <= 'z') ||
			('0' <= c && c <= '9') ||
			c == '+' || c == '/' || c == '=') {
			return []byte(s)
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return []byte(s)
	}
	return decoded
}
