package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tendant/docuflow/pkg/docuflow"
	"github.com/tendant/docuflow/pkg/docuflow/configstore"
)

const instrumentationName = "github.com/tendant/docuflow/pkg/docuflow/processor"

// ErrorSuffix is appended to the input key to form the failure artifact key.
const ErrorSuffix = ".error.json"

// persistTimeout bounds artifact and ledger writes, which run detached from
// the caller's cancellation.
const persistTimeout = 30 * time.Second

// Processor drives one document at a time through the processing service and
// persists the outcome to the output container.
type Processor struct {
	client          docuflow.ProcessingClient
	storage         docuflow.ObjectStore
	configs         *configstore.Store
	inputContainer  string
	outputContainer string

	runs   docuflow.RunRepository
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option represents a functional option for configuring the processor
type Option func(*Processor)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRunRepository records every run in repo
func WithRunRepository(repo docuflow.RunRepository) Option {
	return func(p *Processor) {
		p.runs = repo
	}
}

// WithTracer overrides the tracer obtained from the global provider
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Processor) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// New creates a processor reading documents from inputContainer and writing
// artifacts to outputContainer.
func New(client docuflow.ProcessingClient, storage docuflow.ObjectStore, configs *configstore.Store, inputContainer, outputContainer string, opts ...Option) *Processor {
	p := &Processor{
		client:          client,
		storage:         storage,
		configs:         configs,
		inputContainer:  inputContainer,
		outputContainer: outputContainer,
		logger:          slog.Default(),
		tracer:          otel.Tracer(instrumentationName),
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// InputContainer returns the container documents are read from.
func (p *Processor) InputContainer() string {
	return p.inputContainer
}

// result is the pipeline's value: exactly one of artifact or err is set.
type result struct {
	artifact *artifact
	jobID    string
	err      error
}

type artifact struct {
	data   []byte
	format docuflow.ResultFormat
}

// ProcessBlob runs the pipeline for the document stored at key and writes
// either <key>.<ext> or <key>.error.json to the output container. It never
// returns an error; failures are reported through the artifact and the outcome.
func (p *Processor) ProcessBlob(ctx context.Context, key string) docuflow.ProcessingOutcome {
	run := &docuflow.Run{
		ID:        uuid.NewString(),
		BlobKey:   key,
		StartedAt: p.now(),
	}
	ctx, span := p.tracer.Start(ctx, "processor.process_blob",
		trace.WithAttributes(
			attribute.String("docuflow.blob_key", key),
			attribute.String("docuflow.run_id", run.ID),
		))
	defer span.End()
	logger := p.logger.With("key", key, "run_id", run.ID)
	started := time.Now()

	res := p.execute(ctx, key, logger)
	run.JobID = res.jobID

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if res.err == nil {
		outKey := key + "." + res.artifact.format.Extension()
		if err := p.writeOutput(persistCtx, outKey, res.artifact.data, res.artifact.format.ContentType()); err != nil {
			res.err = fmt.Errorf("failed to write result %s: %w", outKey, err)
		} else {
			run.OutputKey = outKey
		}
	}

	if res.err != nil {
		run.Outcome = docuflow.OutcomeFailure
		run.FailureKind = docuflow.FailureKindOf(res.err)
		run.Message = res.err.Error()
		run.OutputKey = key + ErrorSuffix

		logger.Error("Failed to process blob", "kind", run.FailureKind, "err", res.err)
		span.RecordError(res.err)
		span.SetStatus(codes.Error, string(run.FailureKind))
		if err := p.writeFailure(persistCtx, key, res.err); err != nil {
			logger.Error("Failed to write error artifact", "err", err)
		}
	} else {
		run.Outcome = docuflow.OutcomeSuccess
		logger.Info("Processed blob", "job_id", run.JobID, "output", run.OutputKey)
	}

	run.FinishedAt = p.now()
	span.SetAttributes(attribute.String("docuflow.outcome", string(run.Outcome)))
	processedTotal.WithLabelValues(string(run.Outcome), string(run.FailureKind)).Inc()
	processingDuration.WithLabelValues(string(run.Outcome)).Observe(time.Since(started).Seconds())

	if p.runs != nil {
		if err := p.runs.RecordRun(persistCtx, run); err != nil {
			logger.Warn("Failed to record run", "err", err)
		}
	}
	return run.Outcome
}

// execute fetches the document and drives it through the processing service.
// A panic anywhere below is converted into a failure result.
func (p *Processor) execute(ctx context.Context, key string, logger *slog.Logger) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res = result{jobID: res.jobID, err: fmt.Errorf("panic while processing %s: %v", key, r)}
		}
	}()

	doc, err := p.storage.Get(ctx, p.inputContainer, key)
	if errors.Is(err, docuflow.ErrObjectNotFound) {
		return result{err: fmt.Errorf("%w: blob %q not found in container %q", docuflow.ErrDocumentNotFound, key, p.inputContainer)}
	}
	if err != nil {
		return result{err: fmt.Errorf("failed to read blob %s: %w", key, err)}
	}

	cfg, err := p.configs.Resolve(ctx, path.Dir(key))
	if err != nil {
		return result{err: err}
	}

	mimeType := resolveMimeType(cfg.Params, doc.ContentType)

	uploadResp, err := p.client.SubmitDocument(ctx, docuflow.DocumentUpload{
		Data:     doc.Data,
		FileName: path.Base(key),
		MimeType: mimeType,
	})
	if err != nil {
		return result{err: externalFailure("upload document", err)}
	}
	if uploadResp.IsError() {
		return result{err: fmt.Errorf("%w: upload returned status %d: %s", docuflow.ErrProcessingRejected, uploadResp.StatusCode, uploadResp.Body)}
	}
	jobID, err := docuflow.ExtractJobID(uploadResp)
	if err != nil {
		return result{err: err}
	}
	res.jobID = jobID

	command, err := buildCommand(cfg, mimeType)
	if err != nil {
		return result{jobID: jobID, err: err}
	}
	cmdResp, err := p.client.SubmitCommand(ctx, jobID, command)
	if err != nil {
		return result{jobID: jobID, err: externalFailure("submit command", err)}
	}
	if cmdResp.IsError() {
		return result{jobID: jobID, err: fmt.Errorf("%w: job %s returned status %d: %s", docuflow.ErrProcessingRejected, jobID, cmdResp.StatusCode, cmdResp.Body)}
	}

	opts := waitOptions(cfg.Params, logger)
	output, err := p.client.AwaitCompletion(ctx, jobID, opts)
	if err != nil {
		return result{jobID: jobID, err: externalFailure("wait for job "+jobID, err)}
	}

	return result{
		jobID:    jobID,
		artifact: &artifact{data: serialize(output), format: opts.ResultFormat},
	}
}

func (p *Processor) writeFailure(ctx context.Context, key string, cause error) error {
	data, err := errorArtifact(cause)
	if err != nil {
		return err
	}
	return p.writeOutput(ctx, key+ErrorSuffix, data, "application/json")
}

// writeOutput stores an artifact unconditionally, creating the output
// container when it is missing.
func (p *Processor) writeOutput(ctx context.Context, key string, data []byte, contentType string) error {
	err := p.storage.Put(ctx, p.outputContainer, key, data, contentType, "")
	if errors.Is(err, docuflow.ErrContainerNotFound) {
		p.logger.Info("Container missing; creating before upload", "container", p.outputContainer)
		if cerr := p.storage.CreateContainer(ctx, p.outputContainer); cerr != nil {
			return fmt.Errorf("failed to create container %s: %w", p.outputContainer, cerr)
		}
		err = p.storage.Put(ctx, p.outputContainer, key, data, contentType, "")
	}
	return err
}

func externalFailure(op string, err error) error {
	if errors.Is(err, docuflow.ErrExternalService) || errors.Is(err, docuflow.ErrProcessingRejected) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", docuflow.ErrExternalService, op, err)
}
