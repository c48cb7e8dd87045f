package model

import (
	"bytes"
	"encoding/json"
)

// ID is an opaque identifier for a user or a meeting. Backends disagree on whether identifiers
// are JSON strings or numbers, so both forms are accepted when decoding.
type ID string

// UnmarshalJSON decodes an identifier from either a JSON string or a JSON number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier as a plain string.
func (id ID) String() string {
	return string(id)
}

// IDSet is a set of identifiers that remembers insertion order. The order matters because
// notifications are emitted in the order identifiers were discovered.
type IDSet struct {
	ids   []ID
	index map[ID]struct{}
}

// NewIDSet returns a set containing the given identifiers in order, ignoring duplicates.
func NewIDSet(ids ...ID) IDSet {
	var s IDSet
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts an identifier, returning false if it was already present.
func (s *IDSet) Add(id ID) bool {
	if s.index == nil {
		s.index = make(map[ID]struct{})
	}
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}

// Has reports whether the identifier is in the set.
func (s IDSet) Has(id ID) bool {
	_, ok := s.index[id]
	return ok
}

// Len returns the number of identifiers in the set.
func (s IDSet) Len() int {
	return len(s.ids)
}

// IDs returns a copy of the identifiers in insertion order.
func (s IDSet) IDs() []ID {
	result := make([]ID, len(s.ids))
	copy(result, s.ids)
	return result
}

// Clone returns an independent copy of the set.
func (s IDSet) Clone() IDSet {
	return NewIDSet(s.ids...)
}

// MarshalJSON encodes the set as a JSON array in insertion order.
func (s IDSet) MarshalJSON() ([]byte, error) {
	if s.ids == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ids)
}

// UnmarshalJSON decodes a JSON array of identifiers.
func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []ID
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}
