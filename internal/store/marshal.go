package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/stemlink/internal/canon"
	"github.com/roach88/stemlink/internal/params"
	"github.com/roach88/stemlink/internal/schema"
)

// marshalState serializes a parameter snapshot to canonical JSON so
// identical states always produce identical rows.
func marshalState(st *params.State) (string, error) {
	gamma := make([]any, len(st.Gamma))
	for j, g := range st.Gamma {
		gamma[j] = g
	}

	data, err := canon.Marshal(map[string]any{
		"gamma": gamma,
		"eta_a": st.EtaA,
		"eta_b": st.EtaB,
		"alpha": st.Alpha,
		"phi_a": st.PhiA,
		"phi_b": st.PhiB,
	})
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	return string(data), nil
}

// stateJSON mirrors the canonical snapshot layout for reading back.
type stateJSON struct {
	Gamma [][]float64 `json:"gamma"`
	EtaA  []float64   `json:"eta_a"`
	EtaB  []float64   `json:"eta_b"`
	Alpha []float64   `json:"alpha"`
	PhiA  []float64   `json:"phi_a"`
	PhiB  []float64   `json:"phi_b"`
}

func unmarshalState(data string) (*params.State, error) {
	var sj stateJSON
	if err := json.Unmarshal([]byte(data), &sj); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &params.State{
		Gamma: sj.Gamma,
		EtaA:  sj.EtaA,
		EtaB:  sj.EtaB,
		Alpha: sj.Alpha,
		PhiA:  sj.PhiA,
		PhiB:  sj.PhiB,
	}, nil
}

// marshalModel produces the canonical model summary stored with each run.
func marshalModel(m *schema.Model) (string, error) {
	pivs := make([]any, len(m.PIVs))
	for j, piv := range m.PIVs {
		pivs[j] = map[string]any{
			"name":        piv.Name,
			"cardinality": piv.Cardinality,
			"stable":      piv.IsStable(),
		}
	}
	data, err := canon.Marshal(map[string]any{"pivs": pivs})
	if err != nil {
		return "", fmt.Errorf("marshal model: %w", err)
	}
	return string(data), nil
}
