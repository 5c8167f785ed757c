package channel

import (
	"bytes"
	"encoding/json"
)

// ChannelData is the payload a backend attaches to an authorization grant.
// It is either a RawPayload or a StructuredMember.
type ChannelData interface {
	isChannelData()
}

// RawPayload is channel data that did not decode into an object.
type RawPayload string

// StructuredMember is channel data that decoded into a JSON object.
type StructuredMember map[string]any

func (RawPayload) isChannelData()       {}
func (StructuredMember) isChannelData() {}

// DecodeChannelData interprets raw JSON from the backend. Objects become
// StructuredMember; strings holding a JSON object are unwrapped once; anything
// else falls back to RawPayload. Empty input and null yield nil.
func DecodeChannelData(raw json.RawMessage) ChannelData {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if fields, ok := decodeObject([]byte(s)); ok {
			return fields
		}
		return RawPayload(s)
	}

	if fields, ok := decodeObject(raw); ok {
		return fields
	}
	return RawPayload(raw)
}

func decodeObject(b []byte) (StructuredMember, bool) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return nil, false
	}
	return StructuredMember(fields), true
}

// UserID returns the member identity, accepting user_id or userId as a
// string or a number.
func (s StructuredMember) UserID() string {
	for _, key := range []string{"user_id", "userId"} {
		switch v := s[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return formatFloat(v)
		}
	}
	return ""
}
