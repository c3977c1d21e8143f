// Package script defines the ordered prompt sequence a conversation walks
// through. A Script is configuration, not state: it is built once at startup
// and read concurrently by every conversation without coordination.
package script

import (
	"errors"
	"fmt"
)

// ErrStepOutOfRange indicates a step index outside 1..Len().
var ErrStepOutOfRange = errors.New("step index out of range")

// Step pairs a stable field key with the question shown to the user.
type Step struct {
	Key    string
	Prompt string
}

// Script is an immutable ordered list of steps.
type Script struct {
	steps []Step
}

// New builds a Script from the provided steps. Steps must be non-empty and
// carry unique, non-blank field keys.
func New(steps []Step) (*Script, error) {
	if len(steps) == 0 {
		return nil, errors.New("script requires at least one step")
	}

	seen := make(map[string]struct{}, len(steps))
	for i, step := range steps {
		if step.Key == "" {
			return nil, fmt.Errorf("step %d has an empty field key", i+1)
		}
		if _, dup := seen[step.Key]; dup {
			return nil, fmt.Errorf("duplicate field key %q", step.Key)
		}
		seen[step.Key] = struct{}{}
	}

	copied := make([]Step, len(steps))
	copy(copied, steps)

	return &Script{steps: copied}, nil
}

// Len returns the number of steps in the script.
func (s *Script) Len() int {
	return len(s.steps)
}

// At returns the step at the 1-based position i.
func (s *Script) At(i int) (Step, error) {
	if i < 1 || i > len(s.steps) {
		return Step{}, fmt.Errorf("%w: %d of %d", ErrStepOutOfRange, i, len(s.steps))
	}

	return s.steps[i-1], nil
}

// Keys returns the field keys in step order.
func (s *Script) Keys() []string {
	keys := make([]string, len(s.steps))
	for i, step := range s.steps {
		keys[i] = step.Key
	}

	return keys
}

// Default returns the minimal CFDI 4.0 intake script.
func Default() *Script {
	s, err := New([]Step{
		{Key: "rfc", Prompt: "Para facturar, comparte tu RFC (receptor)."},
		{Key: "cp", Prompt: "¿Cuál es tu Código Postal fiscal (SAT)?"},
		{Key: "regimen", Prompt: "¿Tu régimen fiscal (clave, ej. 612/601/605)?"},
		{Key: "nombre", Prompt: "Nombre/Razón social EXACTO como en SAT."},
		{Key: "uso", Prompt: "Uso CFDI (ej. G03)."},
		{Key: "metodo", Prompt: "Método de pago (PUE o PPD)."},
		{Key: "forma", Prompt: "Forma de pago SAT (01 Efectivo, 03 Transferencia, 04 TDC, etc.)."},
		{Key: "descripcion", Prompt: "Descripción del servicio/venta."},
		{Key: "importe", Prompt: "Importe SIN IVA (ej. 1008.62)."},
	})
	if err != nil {
		panic(err)
	}

	return s
}
