package postgres

import "encoding/json"

// marshalMetadata encodes a record's metadata map to JSON, treating a nil map
// as an empty JSON object so NOT NULL jsonb columns are always satisfied.
func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// unmarshalMetadata decodes a jsonb column back into a metadata map.
func unmarshalMetadata(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// mustJSON encodes v to a JSON string, panicking on failure. Only used for
// values constructed internally (single-key maps built from filter input)
// where marshaling cannot fail.
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic("vectorstore/postgres: unexpected marshal failure: " + err.Error())
	}
	return string(b)
}
