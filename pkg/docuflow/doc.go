// Package docuflow resolves per-folder processing configuration from an
// object store and drives documents through an external asynchronous
// document-processing service.
//
// The root package holds the shared model: stored objects, folder
// configuration, the ObjectStore and ProcessingClient contracts, and the
// error taxonomy. Concrete pieces live in subpackages:
//
//   - configstore: hierarchical configuration lookup, caching and
//     consolidated config.json write-back
//   - processor: the per-document pipeline (upload, submit, wait, persist)
//   - storage/{memory,fs,s3,azure}: ObjectStore backends
//   - docudevs: HTTP ProcessingClient
//   - events: blob event dispatch (Event Grid webhook, storage queue)
//   - repo/{memory,postgres}: run ledger
//   - config: server configuration and dependency wiring
//
// Configuration Layout
//
// A folder is configured either by a single consolidated config.json holding
// params, schema and metadata, or by the discrete params.json (required),
// schema.json and metadata.json files. When both exist config.json wins.
// Documents inherit the configuration of the nearest configured ancestor
// folder, falling back to a well-known default folder.
package docuflow
