package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// FormatVersion is the current persisted-sequence format version.
// Increment when making breaking changes to the record layout.
const FormatVersion = 1

// Codec errors.
var (
	// ErrUnknownKind indicates a record carried an unrecognized variant tag.
	ErrUnknownKind = errors.New("unknown event kind")

	// ErrVersionMismatch indicates the data was written by an incompatible format version.
	ErrVersionMismatch = errors.New("event format version mismatch")
)

// record is one tagged entry of a persisted sequence.
type record struct {
	Kind  Kind            `json:"kind"`
	Event json.RawMessage `json:"event"`
}

type sequenceDoc struct {
	Version int      `json:"version"`
	Events  []record `json:"events"`
}

// MarshalSequence encodes events, in order, as a tagged sequence.
func MarshalSequence(events []Event) ([]byte, error) {
	doc := sequenceDoc{
		Version: FormatVersion,
		Events:  make([]record, 0, len(events)),
	}
	for i, e := range events {
		switch e.(type) {
		case *TrackEvent, *IdentifyEvent:
		default:
			return nil, fmt.Errorf("event %d: %w: %T", i, ErrUnknownKind, e)
		}
		raw, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal event %d: %w", i, err)
		}
		doc.Events = append(doc.Events, record{Kind: e.Kind(), Event: raw})
	}
	return json.Marshal(doc)
}

// UnmarshalSequence decodes a tagged sequence written by MarshalSequence.
func UnmarshalSequence(data []byte) ([]Event, error) {
	var doc sequenceDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sequence: %w", err)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, doc.Version, FormatVersion)
	}

	events := make([]Event, 0, len(doc.Events))
	for i, rec := range doc.Events {
		var (
			e   Event
			err error
		)
		switch rec.Kind {
		case KindTrack:
			var t TrackEvent
			err = decodeNumbers(rec.Event, &t)
			t.EventProperties = normalizeProperties(t.EventProperties)
			e = &t
		case KindIdentify:
			var id IdentifyEvent
			err = decodeNumbers(rec.Event, &id)
			id.UserProperties = normalizeProperties(id.UserProperties)
			if id.UserProperties == nil {
				id.UserProperties = Properties{}
			}
			e = &id
		default:
			return nil, fmt.Errorf("record %d: %w: %q", i, ErrUnknownKind, rec.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// decodeNumbers unmarshals data keeping untyped numbers as json.Number.
func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// normalizeProperties restores numeric property values: integers come back
// as int64, everything else as float64. Nested maps and slices are walked.
func normalizeProperties(p Properties) Properties {
	for k, v := range p {
		p[k] = normalizeValue(v)
	}
	return p
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeValue(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeValue(item)
		}
		return val
	default:
		return v
	}
}
