package jobgen

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/stockyard/extension/internal/jobgen"

type metrics struct {
	generated  metric.Int64Counter
	failed     metric.Int64Counter
	unassigned metric.Int64Counter
	runs       metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	m := otel.Meter(instrumentationName)
	var (
		out metrics
		err error
	)
	out.generated, err = m.Int64Counter("jobgen.jobs.generated",
		metric.WithDescription("Total job chains generated"))
	if err != nil {
		return nil, fmt.Errorf("creating generated counter: %w", err)
	}
	out.failed, err = m.Int64Counter("jobgen.attempts.failed",
		metric.WithDescription("Total generation attempts that produced no job"))
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	out.unassigned, err = m.Int64Counter("jobgen.cars.unassigned",
		metric.WithDescription("Cars left without a job at the end of a run"))
	if err != nil {
		return nil, fmt.Errorf("creating unassigned counter: %w", err)
	}
	out.runs, err = m.Float64Histogram("jobgen.run.duration",
		metric.WithDescription("Wall time of a generation run"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating run histogram: %w", err)
	}
	return &out, nil
}
