package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricOpts holds options for creating metrics
type MetricOpts struct {
	Name        string
	Description string
	Unit        string
}

// Counter wraps an OTel counter
type Counter struct {
	counter metric.Int64Counter
}

// NewCounter creates a new counter metric
func NewCounter(opts MetricOpts) (*Counter, error) {
	counter, err := GetMeter().Int64Counter(
		opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, err
	}
	return &Counter{counter: counter}, nil
}

// Add increments the counter by the given value
func (c *Counter) Add(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// Inc increments the counter by 1
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Histogram wraps an OTel histogram
type Histogram struct {
	histogram metric.Float64Histogram
}

// NewHistogramWithBuckets creates a histogram with explicit bucket boundaries
func NewHistogramWithBuckets(opts MetricOpts, boundaries []float64) (*Histogram, error) {
	histogram, err := GetMeter().Float64Histogram(
		opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
		metric.WithExplicitBucketBoundaries(boundaries...),
	)
	if err != nil {
		return nil, err
	}
	return &Histogram{histogram: histogram}, nil
}

// Record records a value in the histogram
func (h *Histogram) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	h.histogram.Record(ctx, value, metric.WithAttributes(attrs...))
}

// UpDownCounter wraps an OTel up-down counter
type UpDownCounter struct {
	counter metric.Int64UpDownCounter
}

// NewUpDownCounter creates a new up-down counter metric
func NewUpDownCounter(opts MetricOpts) (*UpDownCounter, error) {
	counter, err := GetMeter().Int64UpDownCounter(
		opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, err
	}
	return &UpDownCounter{counter: counter}, nil
}

// Inc increments the counter by 1
func (c *UpDownCounter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Dec decrements the counter by 1
func (c *UpDownCounter) Dec(ctx context.Context, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, -1, metric.WithAttributes(attrs...))
}

// TenancyMetrics groups the instruments recorded by the connection router and lifecycle manager
type TenancyMetrics struct {
	ConnectionsOpened *Counter
	HandlesEvicted    *Counter
	HandlesActive     *UpDownCounter
	Queries           *Counter
	QueryDuration     *Histogram
}

// NewTenancyMetrics registers the tenancy instruments on the global meter
func NewTenancyMetrics() (*TenancyMetrics, error) {
	opened, err := NewCounter(MetricOpts{
		Name:        "tenancy_connections_opened_total",
		Description: "Connection handles created on cache miss",
		Unit:        "1",
	})
	if err != nil {
		return nil, err
	}
	evicted, err := NewCounter(MetricOpts{
		Name:        "tenancy_handles_evicted_total",
		Description: "Connection handles released by idle sweep or shutdown",
		Unit:        "1",
	})
	if err != nil {
		return nil, err
	}
	active, err := NewUpDownCounter(MetricOpts{
		Name:        "tenancy_handles_active",
		Description: "Connection handles currently cached",
		Unit:        "1",
	})
	if err != nil {
		return nil, err
	}
	queries, err := NewCounter(MetricOpts{
		Name:        "tenancy_queries_total",
		Description: "Queries executed through the tenancy layer",
		Unit:        "1",
	})
	if err != nil {
		return nil, err
	}
	duration, err := NewHistogramWithBuckets(MetricOpts{
		Name:        "tenancy_query_duration_seconds",
		Description: "Query latency including connection checkout",
		Unit:        "s",
	}, []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5})
	if err != nil {
		return nil, err
	}

	return &TenancyMetrics{
		ConnectionsOpened: opened,
		HandlesEvicted:    evicted,
		HandlesActive:     active,
		Queries:           queries,
		QueryDuration:     duration,
	}, nil
}

// Common metric attribute keys
const (
	AttrTenantID  = "tenant.id"
	AttrStrategy  = "tenant.strategy"
	AttrErrorType = "error.type"
	AttrOutcome   = "outcome"
)

// TenantIDAttr returns the tenant id attribute
func TenantIDAttr(tenantID string) attribute.KeyValue {
	return attribute.String(AttrTenantID, tenantID)
}

// StrategyAttr returns the isolation strategy attribute
func StrategyAttr(strategy string) attribute.KeyValue {
	return attribute.String(AttrStrategy, strategy)
}

// ErrorTypeAttr returns the error type attribute
func ErrorTypeAttr(errType string) attribute.KeyValue {
	return attribute.String(AttrErrorType, errType)
}

// OutcomeAttr returns the outcome attribute (ok, error)
func OutcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(AttrOutcome, outcome)
}
