package score

import (
	"bytes"
	"encoding/json"
)

// Score is an attainment ratio in [0,1]. Valid=false means "no graded
// evidence yet" and must never be read as zero.
type Score struct {
	Value float64
	Valid bool
}

func Some(v float64) Score { return Score{Value: v, Valid: true} }

func None() Score { return Score{} }

var nullJSON = []byte("null")

// MarshalJSON encodes a missing score as JSON null, not 0.
func (s Score) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return nullJSON, nil
	}
	return json.Marshal(s.Value)
}

func (s *Score) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), nullJSON) {
		*s = Score{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Score{Value: v, Valid: true}
	return nil
}
