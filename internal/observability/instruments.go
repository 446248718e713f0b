package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// instruments creates OTel instruments on one meter and keeps every
// creation error so callers check once.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) fail(name string, err error) {
	if err != nil {
		in.errs = append(in.errs, fmt.Errorf("create %s: %w", name, err))
	}
}

func (in *instruments) counter(name, unit, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithUnit(unit), metric.WithDescription(desc))
	in.fail(name, err)

	return c
}

func (in *instruments) seconds(name, desc string, bounds []float64) metric.Float64Histogram {
	h, err := in.meter.Float64Histogram(name,
		metric.WithUnit("s"),
		metric.WithDescription(desc),
		metric.WithExplicitBucketBoundaries(bounds...),
	)
	in.fail(name, err)

	return h
}

// total registers a cumulative counter whose value is read from load at
// collection time.
func (in *instruments) total(name, unit, desc string, load func() int64) {
	_, err := in.meter.Int64ObservableCounter(name,
		metric.WithUnit(unit),
		metric.WithDescription(desc),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(load())

			return nil
		}),
	)
	in.fail(name, err)
}

func (in *instruments) err() error { return errors.Join(in.errs...) }
