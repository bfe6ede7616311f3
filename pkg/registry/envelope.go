package registry

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
)

// ErrUnknownEnvelope is returned when a response body holds no record array.
var ErrUnknownEnvelope = eris.New("registry: unrecognized response envelope")

// EnvelopeKind names the response shape a body was decoded from.
type EnvelopeKind string

const (
	EnvelopeArray         EnvelopeKind = "array"
	EnvelopeData          EnvelopeKind = "data"
	EnvelopeSearchResults EnvelopeKind = "searchResults"
	// EnvelopeUnknown is an object whose only array field was used as records.
	EnvelopeUnknown EnvelopeKind = "unknown"
)

// SearchMetadata is the paging block of a searchResults envelope.
type SearchMetadata struct {
	TotalCount *int  `json:"totalCount,omitempty"`
	Offset     int   `json:"offset"`
	Limit      int   `json:"limit"`
	HasMore    *bool `json:"hasMore,omitempty"`
}

// Envelope is a decoded response body.
type Envelope struct {
	Kind     EnvelopeKind
	Records  []Record
	Metadata *SearchMetadata
}

// DecodeEnvelope parses body as one of the known shapes: a bare array,
// {"data": [...]}, {"searchResults": [...], "searchMetadata": {...}}, or any
// other object carrying an array-valued field.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, eris.Wrap(ErrUnknownEnvelope, "empty body")
	}

	if trimmed[0] == '[' {
		var recs []Record
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, eris.Wrap(err, "registry: decode array envelope")
		}
		return &Envelope{Kind: EnvelopeArray, Records: recs}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, eris.Wrap(err, "registry: decode object envelope")
	}

	if raw, ok := obj["searchResults"]; ok && isArray(raw) {
		env := &Envelope{Kind: EnvelopeSearchResults}
		if err := json.Unmarshal(raw, &env.Records); err != nil {
			return nil, eris.Wrap(err, "registry: decode searchResults")
		}
		if meta, ok := obj["searchMetadata"]; ok {
			var m SearchMetadata
			if err := json.Unmarshal(meta, &m); err == nil {
				env.Metadata = &m
			}
		}
		return env, nil
	}

	if raw, ok := obj["data"]; ok && isArray(raw) {
		env := &Envelope{Kind: EnvelopeData}
		if err := json.Unmarshal(raw, &env.Records); err != nil {
			return nil, eris.Wrap(err, "registry: decode data envelope")
		}
		return env, nil
	}

	// Unknown object: take the first array-valued field in key order.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !isArray(obj[k]) {
			continue
		}
		var recs []Record
		if err := json.Unmarshal(obj[k], &recs); err != nil {
			continue
		}
		return &Envelope{Kind: EnvelopeUnknown, Records: recs}, nil
	}

	return nil, ErrUnknownEnvelope
}

func isArray(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '['
}
