package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Event types delivered by Azure Storage through Event Grid.
const (
	TypeBlobCreated        = "Microsoft.Storage.BlobCreated"
	TypeBlobDeleted        = "Microsoft.Storage.BlobDeleted"
	TypeSubscriptionVerify = "Microsoft.EventGrid.SubscriptionValidationEvent"
)

const subjectPrefix = "/blobServices/default/containers/"

// Event is a storage notification reduced to the fields the dispatcher reads.
// Both the Event Grid schema and the CloudEvents schema decode into it.
type Event struct {
	ID      string
	Type    string
	Subject string
	Data    json.RawMessage
}

// Deleted reports whether the event announces a removed blob.
func (e Event) Deleted() bool {
	return strings.HasSuffix(e.Type, "BlobDeleted")
}

// ParseSubject splits a blob event subject of the form
// /blobServices/default/containers/<container>/blobs/<key> and URL-unescapes
// the key. ok is false for any other shape.
func ParseSubject(subject string) (container, key string, ok bool) {
	rest, found := strings.CutPrefix(subject, subjectPrefix)
	if !found {
		return "", "", false
	}
	container, blob, found := strings.Cut(rest, "/blobs/")
	if !found || container == "" || blob == "" {
		return "", "", false
	}
	key, err := url.PathUnescape(blob)
	if err != nil {
		return "", "", false
	}
	return container, key, true
}

// envelope covers the Event Grid schema; CloudEvents payloads carry specversion.
type envelope struct {
	ID          string          `json:"id"`
	EventType   string          `json:"eventType"`
	Subject     string          `json:"subject"`
	Data        json.RawMessage `json:"data"`
	SpecVersion string          `json:"specversion"`
}

// decodeEvents accepts a single event or an array, in either schema.
func decodeEvents(body []byte) ([]Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	var raws []json.RawMessage
	if body[0] == '[' {
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("failed to decode event batch: %w", err)
		}
	} else {
		raws = []json.RawMessage{body}
	}

	out := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		if env.SpecVersion == "" {
			out = append(out, Event{ID: env.ID, Type: env.EventType, Subject: env.Subject, Data: env.Data})
			continue
		}

		ce := cloudevents.NewEvent()
		if err := json.Unmarshal(raw, &ce); err != nil {
			return nil, fmt.Errorf("failed to decode cloudevent: %w", err)
		}
		out = append(out, fromCloudEvent(ce))
	}
	return out, nil
}

func fromCloudEvent(ce cloudevents.Event) Event {
	return Event{
		ID:      ce.ID(),
		Type:    ce.Type(),
		Subject: ce.Subject(),
		Data:    ce.Data(),
	}
}

// validationCode extracts the handshake code from a subscription validation event.
func validationCode(e Event) (string, error) {
	var data struct {
		ValidationCode string `json:"validationCode"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return "", fmt.Errorf("failed to decode validation data: %w", err)
	}
	if data.ValidationCode == "" {
		return "", fmt.Errorf("validation event %s has no code", e.ID)
	}
	return data.ValidationCode, nil
}
