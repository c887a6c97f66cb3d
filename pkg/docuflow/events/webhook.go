package events

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 100
	maxBodyBytes     = 1 << 20
)

// Handler handles a single storage event.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event) (string, error)
}

// Webhook receives storage events over HTTP and hands them to a pool of
// workers, so deliveries are acknowledged before documents are processed.
// It answers the Event Grid subscription validation handshake and the
// CloudEvents webhook abuse-protection handshake.
type Webhook struct {
	handler   Handler
	work      chan Event
	workers   int
	queueSize int
	logger    *slog.Logger
	tracer    trace.Tracer

	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// WebhookOption configures a Webhook
type WebhookOption func(*Webhook)

// WithWorkers sets the number of concurrent event workers
func WithWorkers(n int) WebhookOption {
	return func(w *Webhook) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithQueueSize sets how many accepted events may wait for a worker
func WithQueueSize(n int) WebhookOption {
	return func(w *Webhook) {
		if n >= 0 {
			w.queueSize = n
		}
	}
}

// WithWebhookLogger sets the logger
func WithWebhookLogger(logger *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWebhook creates a webhook feeding handler. Call Start before serving.
func NewWebhook(handler Handler, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		handler:   handler,
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		logger:    slog.Default(),
		tracer:    otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.work = make(chan Event, w.queueSize)
	return w
}

// Routes returns the router for the webhook endpoint
func (w *Webhook) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", w.Receive)
	r.Options("/", w.Handshake)
	return r
}

// Start launches the workers. ctx bounds the handling of every event.
func (w *Webhook) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.logger.Info("Starting event workers", "workers", w.workers)
		for i := 0; i < w.workers; i++ {
			w.wg.Add(1)
			go w.process(ctx)
		}
	})
}

// Close stops accepting work and waits for queued events to be handled.
func (w *Webhook) Close() {
	w.closeOnce.Do(func() {
		close(w.work)
	})
	w.wg.Wait()
}

func (w *Webhook) process(ctx context.Context) {
	defer w.wg.Done()
	for ev := range w.work {
		queueDepth.Dec()
		func() {
			ctx, span := w.tracer.Start(ctx, "Webhook.process")
			defer span.End()

			if _, err := w.handler.HandleEvent(ctx, ev); err != nil {
				w.logger.Error("Failed to handle event", "event_id", ev.ID, "subject", ev.Subject, "err", err)
			}
		}()
	}
}

// Handshake answers the CloudEvents abuse-protection preflight.
func (w *Webhook) Handshake(rw http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("WebHook-Request-Origin")
	if origin == "" {
		http.Error(rw, "WebHook-Request-Origin header is required", http.StatusBadRequest)
		return
	}
	rw.Header().Set("WebHook-Allowed-Origin", origin)
	rw.Header().Set("WebHook-Allowed-Rate", "*")
	rw.WriteHeader(http.StatusOK)
}

// Receive accepts one delivery, which may hold a batch of events.
func (w *Webhook) Receive(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			http.Error(rw, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(rw, "Error reading request body", http.StatusInternalServerError)
		return
	}

	var evs []Event
	if isCloudEvent(r) {
		r.Body = io.NopCloser(bytes.NewReader(body))
		evs, err = readCloudEvents(r)
	} else {
		evs, err = decodeEvents(body)
	}
	if err != nil {
		w.logger.Warn("Rejecting malformed event delivery", "err", err)
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	for _, ev := range evs {
		if ev.Type != TypeSubscriptionVerify {
			continue
		}
		code, err := validationCode(ev)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		w.logger.Info("Answering subscription validation", "event_id", ev.ID)
		render.JSON(rw, r, map[string]string{"validationResponse": code})
		return
	}

	for _, ev := range evs {
		select {
		case w.work <- ev:
			queueDepth.Inc()
			eventsReceived.WithLabelValues("webhook").Inc()
		case <-r.Context().Done():
			http.Error(rw, "Event queue is full", http.StatusServiceUnavailable)
			return
		}
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(rw, r, map[string]int{"accepted": len(evs)})
}

func isCloudEvent(r *http.Request) bool {
	if r.Header.Get("ce-specversion") != "" {
		return true
	}
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/cloudevents")
}

func readCloudEvents(r *http.Request) ([]Event, error) {
	if cehttp.IsHTTPBatch(r.Header) {
		batch, err := cehttp.NewEventsFromHTTPRequest(r)
		if err != nil {
			return nil, err
		}
		out := make([]Event, 0, len(batch))
		for _, ce := range batch {
			out = append(out, fromCloudEvent(ce))
		}
		return out, nil
	}

	ce, err := cehttp.NewEventFromHTTPRequest(r)
	if err != nil {
		return nil, err
	}
	return []Event{fromCloudEvent(*ce)}, nil
}
