package main

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/hackgods/dental-patient-flow/internal/appointment"
	"github.com/hackgods/dental-patient-flow/internal/logging"
)

type scriptedAssigner struct {
	results []error // nil means one assignment
	calls   int
}

func (s *scriptedAssigner) AssignNextPatient(context.Context, string) (*appointment.QueueEntry, error) {
	defer func() { s.calls++ }()
	if s.calls >= len(s.results) {
		return nil, nil
	}
	if err := s.results[s.calls]; err != nil {
		return nil, err
	}
	return &appointment.QueueEntry{ID: uuid.New()}, nil
}

func TestDrain(t *testing.T) {
	tests := []struct {
		name    string
		results []error
		want    int
		calls   int
	}{
		{"empty queue", nil, 0, 1},
		{"until empty", []error{nil, nil, nil}, 3, 4},
		{"lock held elsewhere", []error{nil, appointment.ErrAssignmentInProgress}, 1, 2},
		{"engine error", []error{assert.AnError}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &scriptedAssigner{results: tt.results}
			got := drain(context.Background(), a, "seremban", logging.Discard())
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.calls, a.calls)
		})
	}
}

func TestDrainIsBounded(t *testing.T) {
	results := make([]error, maxPerRun+10)
	a := &scriptedAssigner{results: results}

	got := drain(context.Background(), a, "seremban", logging.Discard())
	assert.Equal(t, maxPerRun, got)
}
