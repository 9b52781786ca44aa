package appointment

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/hackgods/dental-patient-flow/internal/appointment"

// assignment outcomes reported on queue_assignments_total
const (
	outcomeAssigned  = "assigned"
	outcomeEmpty     = "queue_empty"
	outcomeNoRoom    = "no_room"
	outcomeNoDentist = "no_dentist"
	outcomeRejected  = "rejected"
	outcomeBusy      = "lock_busy"
)

type instruments struct {
	tracer      trace.Tracer
	assignments metric.Int64Counter
	transitions metric.Int64Counter
	completions metric.Int64Counter
}

// newInstruments binds to the global providers installed by telemetry.Setup.
// With no provider installed the otel no-op implementations are used. An
// instrument that cannot be created is replaced by a no-op one and its error
// returned.
func newInstruments() (*instruments, error) {
	return newInstrumentsFrom(otel.Meter(instrumentationName), otel.Tracer(instrumentationName))
}

func newInstrumentsFrom(meter metric.Meter, tracer trace.Tracer) (*instruments, error) {
	var errs []error

	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			errs = append(errs, fmt.Errorf("counter %s: %w", name, err))
		}
		if c == nil {
			return noop.Int64Counter{}
		}
		return c
	}

	m := &instruments{
		tracer:      tracer,
		assignments: counter("queue_assignments_total", "Queue assignment attempts by outcome", "{attempt}"),
		transitions: counter("appointment_transitions_total", "Requested appointment status transitions", "{transition}"),
		completions: counter("queue_completions_total", "Treatments completed", "{treatment}"),
	}
	return m, errors.Join(errs...)
}

func (m *instruments) assignment(ctx context.Context, location, outcome string) {
	m.assignments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("location", location),
		attribute.String("outcome", outcome),
	))
}

func (m *instruments) transition(ctx context.Context, to Status, accepted bool) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to", string(to)),
		attribute.Bool("accepted", accepted),
	))
}

func (m *instruments) completion(ctx context.Context, location string) {
	m.completions.Add(ctx, 1, metric.WithAttributes(attribute.String("location", location)))
}
