package configstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tendant/docuflow/pkg/docuflow"
)

// consolidatedDoc is the on-disk layout of config.json.
type consolidatedDoc struct {
	Params   map[string]any `json:"params"`
	Schema   any            `json:"schema"`
	Metadata any            `json:"metadata"`
	Source   string         `json:"source"`
}

type jsonFile struct {
	name       string
	raw        []byte
	versionTag string
}

// source is the set of files a folder's configuration is built from. It is
// either a consolidatedSource or a threeFileSource.
type source interface {
	materialize(folder string) (*docuflow.FolderConfig, error)
	kind() string
}

type consolidatedSource struct {
	doc        consolidatedDoc
	versionTag string
}

func (c consolidatedSource) kind() string { return "consolidated" }

func (c consolidatedSource) materialize(folder string) (*docuflow.FolderConfig, error) {
	if c.doc.Params == nil {
		return nil, invalid(folder, docuflow.ConsolidatedConfigFile, errors.New("missing params"))
	}
	return &docuflow.FolderConfig{
		Params:       c.doc.Params,
		SourceFolder: folder,
		Schema:       c.doc.Schema,
		Metadata:     c.doc.Metadata,
		VersionTags:  map[string]string{docuflow.ConsolidatedConfigFile: c.versionTag},
	}, nil
}

type threeFileSource struct {
	params   *jsonFile
	schema   *jsonFile
	metadata *jsonFile
}

func (t threeFileSource) kind() string { return "three_file" }

func (t threeFileSource) materialize(folder string) (*docuflow.FolderConfig, error) {
	var params map[string]any
	if err := json.Unmarshal(t.params.raw, &params); err != nil {
		return nil, invalid(folder, docuflow.ParamsFile, err)
	}
	if params == nil {
		return nil, invalid(folder, docuflow.ParamsFile, errors.New("params must be a JSON object"))
	}

	cfg := &docuflow.FolderConfig{
		Params:       params,
		SourceFolder: folder,
		VersionTags:  map[string]string{docuflow.ParamsFile: t.params.versionTag},
	}
	if t.schema != nil {
		if err := json.Unmarshal(t.schema.raw, &cfg.Schema); err != nil {
			return nil, invalid(folder, docuflow.SchemaFile, err)
		}
		cfg.VersionTags[docuflow.SchemaFile] = t.schema.versionTag
	}
	if t.metadata != nil {
		if err := json.Unmarshal(t.metadata.raw, &cfg.Metadata); err != nil {
			return nil, invalid(folder, docuflow.MetadataFile, err)
		}
		cfg.VersionTags[docuflow.MetadataFile] = t.metadata.versionTag
	}
	return cfg, nil
}

func invalid(folder, file string, cause error) error {
	return &docuflow.ConfigError{
		Folder: folder,
		File:   file,
		Err:    fmt.Errorf("%w: %v", docuflow.ErrInvalidConfig, cause),
	}
}
