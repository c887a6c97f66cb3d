package docuflow

import (
	"strings"
	"time"
)

// Configuration file names recognised inside a folder.
const (
	ConsolidatedConfigFile = "config.json"
	ParamsFile             = "params.json"
	SchemaFile             = "schema.json"
	MetadataFile           = "metadata.json"
)

// DefaultConfigFolder is the folder consulted after the ancestor walk is exhausted.
const DefaultConfigFolder = "__default__"

// IsConfigFile reports whether name is one of the discrete configuration files
// whose change triggers a consolidated rebuild.
func IsConfigFile(name string) bool {
	switch name {
	case ParamsFile, SchemaFile, MetadataFile:
		return true
	}
	return false
}

// StoredObject is a blob as read from an ObjectStore. Every read returns a
// fresh instance.
type StoredObject struct {
	Data        []byte
	ContentType string
	VersionTag  string
}

// FolderConfig is the merged configuration of a single folder.
type FolderConfig struct {
	Params       map[string]any
	SourceFolder string
	Schema       any
	Metadata     any
	VersionTags  map[string]string
}

// VersionTag returns the recorded version tag for file, or "".
func (c *FolderConfig) VersionTag(file string) string {
	if c == nil || c.VersionTags == nil {
		return ""
	}
	return c.VersionTags[file]
}

// ProcessingOutcome is the only externally observable result of processing a document.
type ProcessingOutcome string

const (
	OutcomeSuccess ProcessingOutcome = "success"
	OutcomeFailure ProcessingOutcome = "failure"
)

// ResultFormat selects the encoding of a completed job's result.
type ResultFormat string

const (
	ResultFormatJSON  ResultFormat = "json"
	ResultFormatCSV   ResultFormat = "csv"
	ResultFormatExcel ResultFormat = "excel"
)

// ParseResultFormat normalises s and reports whether it names a supported format.
func ParseResultFormat(s string) (ResultFormat, bool) {
	switch f := ResultFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case ResultFormatJSON, ResultFormatCSV, ResultFormatExcel:
		return f, true
	}
	return "", false
}

// Extension returns the output file extension (without the dot) for the format.
// Unset or unknown formats map to json.
func (f ResultFormat) Extension() string {
	switch f {
	case ResultFormatCSV:
		return "csv"
	case ResultFormatExcel:
		return "xlsx"
	default:
		return "json"
	}
}

// ContentType returns the MIME type of artifacts written in this format.
func (f ResultFormat) ContentType() string {
	switch f {
	case ResultFormatCSV:
		return "text/csv"
	case ResultFormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// DocumentUpload carries a document to the processing service.
type DocumentUpload struct {
	Data     []byte
	FileName string
	MimeType string
}

// Command is the processing command payload submitted for a job.
type Command map[string]any

// WaitOptions bounds a blocking wait for job completion. Zero values mean
// "use the client default".
type WaitOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
	ResultFormat ResultFormat
}
