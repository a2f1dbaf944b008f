package store

import (
	"encoding/json"
	"fmt"
)

// DecodeAll unmarshals every record into a T.
func DecodeAll[T any](recs []Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		var v T
		if err := json.Unmarshal(r.Data, &v); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", r.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Encode builds a Record from any JSON-marshalable value.
func Encode(id string, v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id, Data: data}, nil
}
