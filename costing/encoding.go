package costing

import (
	"encoding/json"
	"fmt"
)

// EncodeLots serializes lots as JSON. Decimals are written as strings so
// no precision is lost.
func EncodeLots(lots []Lot) (string, error) {
	if lots == nil {
		lots = []Lot{}
	}
	b, err := json.Marshal(lots)
	if err != nil {
		return "", fmt.Errorf("encode lots: %w", err)
	}
	return string(b), nil
}

// DecodeLots is the inverse of EncodeLots. An empty string decodes to no lots.
func DecodeLots(s string) ([]Lot, error) {
	if s == "" {
		return nil, nil
	}
	var lots []Lot
	if err := json.Unmarshal([]byte(s), &lots); err != nil {
		return nil, fmt.Errorf("decode lots: %w", err)
	}
	if len(lots) == 0 {
		return nil, nil
	}
	return lots, nil
}
