package otelmetrics

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/goliatone/go-treasury/core"
)

const InstrumentationName = "github.com/goliatone/go-treasury"

// Recorder exposes service metrics as OpenTelemetry instruments. Instruments
// are created on first use and reused afterwards.
type Recorder struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	onError    func(error)
}

type Option func(*Recorder)

// WithErrorHandler receives instrument creation failures. Defaults to the
// global otel error handler.
func WithErrorHandler(handler func(error)) Option {
	return func(r *Recorder) {
		if handler != nil {
			r.onError = handler
		}
	}
}

// NewRecorder builds a recorder from a meter provider. A nil provider falls
// back to the global one.
func NewRecorder(provider metric.MeterProvider, opts ...Option) *Recorder {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	r := &Recorder{
		meter:      provider.Meter(InstrumentationName),
		counters:   map[string]metric.Int64Counter{},
		histograms: map[string]metric.Float64Histogram{},
		onError:    otel.Handle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) IncCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	counter := r.counter(name)
	if counter == nil {
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(attributes(tags)...))
}

func (r *Recorder) ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	histogram := r.histogram(name)
	if histogram == nil {
		return
	}
	histogram.Record(ctx, value, metric.WithAttributes(attributes(tags)...))
}

func (r *Recorder) counter(name string) metric.Int64Counter {
	name = strings.TrimSpace(name)
	if r == nil || name == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if counter, ok := r.counters[name]; ok {
		return counter
	}
	counter, err := r.meter.Int64Counter(name)
	if err != nil {
		r.onError(err)
		return nil
	}
	r.counters[name] = counter
	return counter
}

func (r *Recorder) histogram(name string) metric.Float64Histogram {
	name = strings.TrimSpace(name)
	if r == nil || name == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if histogram, ok := r.histograms[name]; ok {
		return histogram
	}
	histogram, err := r.meter.Float64Histogram(name, metric.WithUnit("ms"))
	if err != nil {
		r.onError(err)
		return nil
	}
	r.histograms[name] = histogram
	return histogram
}

func attributes(tags map[string]string) []attribute.KeyValue {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for key := range tags {
		if strings.TrimSpace(key) != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, key := range keys {
		out = append(out, attribute.String(key, tags[key]))
	}
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)
