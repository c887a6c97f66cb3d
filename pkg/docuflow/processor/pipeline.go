package processor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/docuflow/pkg/docuflow"
)

// Parameter keys read from folder configuration.
const (
	ParamMimeType            = "mimeType"
	ParamSchema              = "schema"
	ParamMetadata            = "metadata"
	ParamResultFormat        = "resultFormat"
	ParamResultTimeout       = "resultTimeoutSeconds"
	ParamResultPollInterval  = "resultPollIntervalSeconds"
	defaultMimeType          = "application/octet-stream"
	alternateMimeTypeParam   = "mime_type"
	unknownResultPlaceholder = `{"status":"unknown"}`
)

// resolveMimeType prefers an explicit mimeType parameter, then the stored
// content type, then a generic binary type.
func resolveMimeType(params map[string]any, contentType string) string {
	for _, key := range []string{ParamMimeType, alternateMimeTypeParam} {
		if s, ok := params[key].(string); ok && s != "" {
			return s
		}
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if strings.EqualFold(k, ParamMimeType) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := params[k].(string); ok && s != "" {
			return s
		}
	}

	if contentType != "" {
		return contentType
	}
	return defaultMimeType
}

// buildCommand derives the processing command from cfg without mutating it.
func buildCommand(cfg *docuflow.FolderConfig, mimeType string) (docuflow.Command, error) {
	command := make(docuflow.Command, len(cfg.Params)+3)
	for k, v := range cfg.Params {
		command[k] = v
	}
	if _, ok := command[ParamMimeType]; !ok {
		command[ParamMimeType] = mimeType
	}

	if command[ParamSchema] == nil && cfg.Schema != nil {
		switch schema := cfg.Schema.(type) {
		case map[string]any, []any:
			encoded, err := json.Marshal(schema)
			if err != nil {
				return nil, fmt.Errorf("%w: schema: %v", docuflow.ErrInvalidConfig, err)
			}
			command[ParamSchema] = string(encoded)
		case string:
			command[ParamSchema] = schema
		default:
			command[ParamSchema] = fmt.Sprint(schema)
		}
	}

	if cfg.Metadata != nil {
		if _, ok := command[ParamMetadata]; !ok {
			command[ParamMetadata] = cfg.Metadata
		}
	}
	return command, nil
}

// waitOptions reads the optional wait parameters. Values that cannot be
// used are logged and left at their zero value.
func waitOptions(params map[string]any, logger *slog.Logger) docuflow.WaitOptions {
	var opts docuflow.WaitOptions

	if raw, ok := params[ParamResultFormat]; ok && raw != nil {
		s, isString := raw.(string)
		format, valid := docuflow.ParseResultFormat(s)
		if isString && valid {
			opts.ResultFormat = format
		} else {
			logger.Warn("Unsupported result format; falling back to JSON", "value", raw)
		}
	}

	if raw, ok := params[ParamResultTimeout]; ok && raw != nil {
		if seconds, ok := positiveInt(raw); ok {
			opts.Timeout = time.Duration(seconds) * time.Second
		} else {
			logger.Warn("Ignoring invalid result timeout", "value", raw)
		}
	}

	if raw, ok := params[ParamResultPollInterval]; ok && raw != nil {
		if seconds, ok := positiveFloat(raw); ok {
			opts.PollInterval = time.Duration(seconds * float64(time.Second))
		} else {
			logger.Warn("Ignoring invalid result poll interval", "value", raw)
		}
	}
	return opts
}

// positiveInt truncates numbers and parses integer strings.
func positiveInt(v any) (int, bool) {
	var n int
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x > math.MaxInt32 {
			return 0, false
		}
		n = int(x)
	case int:
		n = x
	case int64:
		n = int(x)
	case json.Number:
		i, err := strconv.Atoi(x.String())
		if err != nil {
			return 0, false
		}
		n = i
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		n = i
	default:
		return 0, false
	}
	return n, n > 0
}

func positiveFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	return f, true
}

// serialize encodes a job result by shape: bytes pass through, text is
// UTF-8, everything else is JSON.
func serialize(output any) []byte {
	switch v := output.(type) {
	case nil:
		return []byte(unknownResultPlaceholder)
	case json.RawMessage:
		return v
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	data, err := json.Marshal(output)
	if err != nil {
		return []byte(unknownResultPlaceholder)
	}
	return data
}

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func errorArtifact(cause error) ([]byte, error) {
	return json.Marshal(errorBody{Status: "error", Message: cause.Error()})
}
