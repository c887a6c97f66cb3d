package docuflow_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/docuflow/pkg/docuflow"
)

type typedBody struct{ id string }

func (t typedBody) JobGUID() string { return t.id }

func TestExtractJobID(t *testing.T) {
	tests := []struct {
		name string
		resp *docuflow.Response
		want string
	}{
		{
			name: "parsed guid",
			resp: &docuflow.Response{Parsed: map[string]any{"guid": "p-1"}, GUID: "env-1"},
			want: "p-1",
		},
		{
			name: "parsed jobGuid",
			resp: &docuflow.Response{Parsed: map[string]any{"jobGuid": "p-2"}},
			want: "p-2",
		},
		{
			name: "typed body wins over envelope",
			resp: &docuflow.Response{Parsed: map[string]any{"other": 1}, Typed: typedBody{id: "t-1"}, GUID: "env-1"},
			want: "t-1",
		},
		{
			name: "envelope guid",
			resp: &docuflow.Response{Typed: typedBody{}, GUID: "env-2", Body: []byte(`{"guid":"raw"}`)},
			want: "env-2",
		},
		{
			name: "raw body",
			resp: &docuflow.Response{Body: []byte(`{"jobGuid":"raw-1"}`)},
			want: "raw-1",
		},
		{
			name: "non-string parsed guid falls through",
			resp: &docuflow.Response{Parsed: map[string]any{"guid": 12}, Body: []byte(`{"guid":"raw-2"}`)},
			want: "raw-2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := docuflow.ExtractJobID(tt.resp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestExtractJobID_Missing(t *testing.T) {
	for _, resp := range []*docuflow.Response{
		nil,
		{},
		{Parsed: map[string]any{"guid": ""}},
		{Body: []byte("not json")},
		{Body: []byte(`{"status":"accepted"}`)},
	} {
		_, err := docuflow.ExtractJobID(resp)
		assert.ErrorIs(t, err, docuflow.ErrMissingIdentifier)
	}
}

func TestResponseIsError(t *testing.T) {
	assert.False(t, (&docuflow.Response{StatusCode: http.StatusAccepted}).IsError())
	assert.True(t, (&docuflow.Response{StatusCode: http.StatusBadRequest}).IsError())
	assert.True(t, (&docuflow.Response{StatusCode: http.StatusBadGateway}).IsError())
	var nilResp *docuflow.Response
	assert.False(t, nilResp.IsError())
}

func TestFailureKindOf(t *testing.T) {
	assert.Equal(t, docuflow.FailureNone, docuflow.FailureKindOf(nil))
	assert.Equal(t, docuflow.FailureNotFound, docuflow.FailureKindOf(fmt.Errorf("wrap: %w", docuflow.ErrDocumentNotFound)))
	assert.Equal(t, docuflow.FailureNotFound, docuflow.FailureKindOf(&docuflow.ConfigError{Folder: "a", Err: docuflow.ErrConfigNotFound}))
	assert.Equal(t, docuflow.FailureInvalidConfig, docuflow.FailureKindOf(&docuflow.ConfigError{Folder: "a", File: "config.json", Err: docuflow.ErrInvalidConfig}))
	assert.Equal(t, docuflow.FailureMissingIdentifier, docuflow.FailureKindOf(docuflow.ErrMissingIdentifier))
	assert.Equal(t, docuflow.FailureProcessingRejected, docuflow.FailureKindOf(docuflow.ErrProcessingRejected))
	assert.Equal(t, docuflow.FailureExternalService, docuflow.FailureKindOf(docuflow.ErrExternalService))
	assert.Equal(t, docuflow.FailureStorage, docuflow.FailureKindOf(&docuflow.StorageError{Op: "put", Err: docuflow.ErrStorageConflict}))
	assert.Equal(t, docuflow.FailureInternal, docuflow.FailureKindOf(fmt.Errorf("boom")))
}

func TestResultFormat(t *testing.T) {
	f, ok := docuflow.ParseResultFormat(" CSV ")
	require.True(t, ok)
	assert.Equal(t, docuflow.ResultFormatCSV, f)
	assert.Equal(t, "csv", f.Extension())
	assert.Equal(t, "text/csv", f.ContentType())

	_, ok = docuflow.ParseResultFormat("xml")
	assert.False(t, ok)

	assert.Equal(t, "xlsx", docuflow.ResultFormatExcel.Extension())
	assert.Equal(t, "json", docuflow.ResultFormat("").Extension())
	assert.Equal(t, "application/json", docuflow.ResultFormat("").ContentType())
}
