// Package events routes blob storage notifications to the configuration store
// and the document processor. Notifications arrive through an HTTP webhook
// (Event Grid or CloudEvents schema) or an Azure Storage queue.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tendant/docuflow/pkg/docuflow"
	"github.com/tendant/docuflow/pkg/docuflow/configstore"
)

const instrumentationName = "github.com/tendant/docuflow/pkg/docuflow/events"

// Results reported by the dispatcher besides processing outcomes.
const (
	ResultIgnored       = "ignored"
	ResultSkipped       = "skipped"
	ResultConfigRebuilt = "config_rebuilt"
	ResultConfigDeleted = "config_deleted"
)

// BlobProcessor processes one document of the input container.
type BlobProcessor interface {
	ProcessBlob(ctx context.Context, key string) docuflow.ProcessingOutcome
}

// Dispatcher applies storage events to the configuration store and processor.
// Only events for the store's container are acted upon.
type Dispatcher struct {
	configs   *configstore.Store
	processor BlobProcessor
	logger    *slog.Logger
	tracer    trace.Tracer
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a dispatcher for the input container served by configs.
func NewDispatcher(configs *configstore.Store, processor BlobProcessor, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		configs:   configs,
		processor: processor,
		logger:    slog.Default(),
		tracer:    otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleEvent routes an event: discrete config files go to HandleConfigEvent,
// created blobs to HandleIngestEvent. Anything else is ignored.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev Event) (string, error) {
	ctx, span := d.tracer.Start(ctx, "events.handle", trace.WithAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", ev.Type),
	))
	defer span.End()

	result, err := d.route(ctx, ev)
	span.SetAttributes(attribute.String("event.result", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		eventsHandled.WithLabelValues("error").Inc()
		return result, err
	}
	eventsHandled.WithLabelValues(result).Inc()
	return result, nil
}

func (d *Dispatcher) route(ctx context.Context, ev Event) (string, error) {
	_, key, ok := ParseSubject(ev.Subject)
	if !ok {
		d.logger.Warn("Ignoring event with unexpected subject", "subject", ev.Subject)
		return ResultIgnored, nil
	}
	if docuflow.IsConfigFile(path.Base(key)) {
		return d.HandleConfigEvent(ctx, ev)
	}
	if !strings.HasSuffix(ev.Type, "BlobCreated") {
		return ResultIgnored, nil
	}
	return d.HandleIngestEvent(ctx, ev)
}

// HandleConfigEvent reacts to a change of params.json, schema.json or
// metadata.json: the folder's cache entry is dropped and, unless the file was
// deleted, the folder is rebuilt and written back as config.json. A deleted
// file removes config.json instead.
func (d *Dispatcher) HandleConfigEvent(ctx context.Context, ev Event) (string, error) {
	container, key, ok := ParseSubject(ev.Subject)
	if !ok {
		d.logger.Warn("Ignoring event with unexpected subject", "subject", ev.Subject)
		return ResultIgnored, nil
	}
	if container != d.configs.Container() || !docuflow.IsConfigFile(path.Base(key)) {
		return ResultIgnored, nil
	}

	folder := configstore.NormalizeFolder(path.Dir(key))
	d.configs.Invalidate(folder)

	if ev.Deleted() {
		if err := d.configs.DeleteConsolidated(ctx, folder); err != nil {
			d.logger.Debug("Unable to delete consolidated config", "folder", folder, "err", err)
		}
		d.logger.Info("Config deleted", "folder", folder)
		return ResultConfigDeleted, nil
	}

	cfg, err := d.configs.Build(ctx, folder)
	if errors.Is(err, docuflow.ErrConfigNotFound) {
		d.logger.Warn("Config update event but params.json missing", "folder", folder)
		return ResultSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to rebuild config for %q: %w", folder, err)
	}
	if err := d.configs.WriteConsolidated(ctx, cfg); err != nil {
		return "", err
	}
	d.logger.Info("Config rebuilt", "folder", folder)
	return ResultConfigRebuilt, nil
}

// HandleIngestEvent processes a newly created document. JSON blobs, which
// include configuration and result files, are skipped.
func (d *Dispatcher) HandleIngestEvent(ctx context.Context, ev Event) (string, error) {
	container, key, ok := ParseSubject(ev.Subject)
	if !ok {
		d.logger.Warn("Ignoring ingest event with unexpected subject", "subject", ev.Subject)
		return ResultIgnored, nil
	}
	if container != d.configs.Container() {
		return ResultIgnored, nil
	}
	name := path.Base(key)
	if docuflow.IsConfigFile(name) || strings.HasSuffix(name, ".json") {
		return ResultSkipped, nil
	}

	outcome := d.processor.ProcessBlob(ctx, key)
	d.logger.Info("Processed blob", "key", key, "outcome", outcome)
	return string(outcome), nil
}
