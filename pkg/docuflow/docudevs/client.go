// Package docudevs is an HTTP client for the DocuDevs document processing API.
// It implements docuflow.ProcessingClient.
package docudevs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tendant/docuflow/pkg/docuflow"
)

const (
	DefaultBaseURL      = "https://api.docudevs.ai"
	DefaultTimeout      = 180 * time.Second
	DefaultPollInterval = 5 * time.Second
)

var errJobPending = errors.New("job still running")

// Client talks to the DocuDevs REST API with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option represents a functional option for configuring the client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every request
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for baseURL authenticated with token
func New(baseURL, token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, errors.New("DOCUDEVS_API_KEY is not configured")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// uploadResult is the typed body of an upload response.
type uploadResult struct {
	GUID string `json:"guid"`
}

func (u uploadResult) JobGUID() string { return u.GUID }

// SubmitDocument uploads a document as multipart form data.
func (c *Client) SubmitDocument(ctx context.Context, upload docuflow.DocumentUpload) (*docuflow.Response, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="document"; filename=%q`, upload.FileName))
	header.Set("Content-Type", upload.MimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, fmt.Errorf("failed to write multipart part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/document/upload-files", writer.FormDataContentType(), body)
	if err != nil {
		return nil, err
	}

	var typed uploadResult
	if json.Unmarshal(resp.Body, &typed) == nil && typed.GUID != "" {
		resp.Typed = typed
	}
	return resp, nil
}

// SubmitCommand starts processing of an uploaded document.
func (c *Client) SubmitCommand(ctx context.Context, jobID string, command docuflow.Command) (*docuflow.Response, error) {
	payload, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/document/process/"+url.PathEscape(jobID), "application/json", bytes.NewReader(payload))
}

type jobStatus struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// AwaitCompletion polls the job status until it completes, fails or the
// timeout elapses, then fetches the result in the requested format:
// JSON results decode to a value, CSV to a string and Excel to bytes.
func (c *Client) AwaitCompletion(ctx context.Context, jobID string, opts docuflow.WaitOptions) (any, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	poll := func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodGet, "/job/status/"+url.PathEscape(jobID), "", nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if resp.IsError() {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: status check for job %s returned %d: %s",
				docuflow.ErrExternalService, jobID, resp.StatusCode, resp.Body))
		}
		var status jobStatus
		if err := json.Unmarshal(resp.Body, &status); err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: decode job status: %v", docuflow.ErrExternalService, err))
		}

		switch strings.ToLower(status.Status) {
		case "completed", "complete", "done", "success":
			return struct{}{}, nil
		case "error", "failed", "failure":
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: job %s failed: %s", docuflow.ErrExternalService, jobID, status.Error))
		}
		c.logger.Debug("Job not ready", "job_id", jobID, "status", status.Status)
		return struct{}{}, errJobPending
	}

	_, err := backoff.Retry(ctx, poll,
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxElapsedTime(timeout),
	)
	if err != nil {
		if errors.Is(err, errJobPending) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: job %s did not complete within %s", docuflow.ErrExternalService, jobID, timeout)
		}
		return nil, err
	}

	return c.fetchResult(ctx, jobID, opts.ResultFormat)
}

func (c *Client) fetchResult(ctx context.Context, jobID string, format docuflow.ResultFormat) (any, error) {
	path := "/job/result/" + url.PathEscape(jobID)
	switch format {
	case docuflow.ResultFormatCSV:
		path += "/csv"
	case docuflow.ResultFormatExcel:
		path += "/excel"
	}

	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: result for job %s returned %d: %s", docuflow.ErrExternalService, jobID, resp.StatusCode, resp.Body)
	}

	switch format {
	case docuflow.ResultFormatCSV:
		return string(resp.Body), nil
	case docuflow.ResultFormatExcel:
		return resp.Body, nil
	}
	if resp.Parsed != nil {
		return resp.Parsed, nil
	}
	var result any
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return resp.Body, nil
	}
	return result, nil
}

// do sends a request and normalizes the reply. Transport failures wrap
// docuflow.ErrExternalService; HTTP error statuses are left to the caller.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*docuflow.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", docuflow.ErrExternalService, method, path, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", docuflow.ErrExternalService, err)
	}

	resp := &docuflow.Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
		GUID:       httpResp.Header.Get("X-Job-Guid"),
	}
	var parsed map[string]any
	if json.Unmarshal(data, &parsed) == nil {
		resp.Parsed = parsed
	}
	return resp, nil
}
