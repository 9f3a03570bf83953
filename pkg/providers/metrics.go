package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

// Metrics is the metrics capability: instant and range PromQL queries.
type Metrics interface {
	// Instant evaluates a query at ts.
	Instant(ctx context.Context, query string, ts time.Time) (model.Vector, models.Availability)

	// Range evaluates a query over the window with the given step.
	Range(ctx context.Context, query string, w models.TimeWindow, step time.Duration) (model.Matrix, models.Availability)
}

// PrometheusProvider implements Metrics against a Prometheus-compatible API.
type PrometheusProvider struct {
	api promv1.API
}

// NewPrometheusProvider creates a Prometheus metrics provider.
func NewPrometheusProvider(url string) (*PrometheusProvider, error) {
	client, err := api.NewClient(api.Config{Address: url})
	if err != nil {
		return nil, fmt.Errorf("creating prometheus client for %s: %w", url, err)
	}
	return &PrometheusProvider{api: promv1.NewAPI(client)}, nil
}

// Instant implements Metrics.
func (p *PrometheusProvider) Instant(ctx context.Context, query string, ts time.Time) (model.Vector, models.Availability) {
	val, _, err := p.api.Query(ctx, query, ts)
	if err != nil {
		return nil, classifyError(err)
	}
	vec, ok := val.(model.Vector)
	if !ok {
		return nil, models.AvailUnavailable(fmt.Sprintf("unexpected result type %s", val.Type()))
	}
	if len(vec) == 0 {
		return nil, models.AvailEmpty()
	}
	return vec, models.AvailOK()
}

// Range implements Metrics.
func (p *PrometheusProvider) Range(ctx context.Context, query string, w models.TimeWindow, step time.Duration) (model.Matrix, models.Availability) {
	val, _, err := p.api.QueryRange(ctx, query, promv1.Range{Start: w.Start, End: w.End, Step: step})
	if err != nil {
		return nil, classifyError(err)
	}
	mat, ok := val.(model.Matrix)
	if !ok {
		return nil, models.AvailUnavailable(fmt.Sprintf("unexpected result type %s", val.Type()))
	}
	if len(mat) == 0 {
		return nil, models.AvailEmpty()
	}
	return mat, models.AvailOK()
}

// SeriesFromMatrix converts the first stream of a range result into a
// MetricSeries with latest/max precomputed.
func SeriesFromMatrix(query, unit string, mat model.Matrix) models.MetricSeries {
	series := models.MetricSeries{Query: query, Unit: unit}
	if len(mat) == 0 {
		return series
	}
	stream := mat[0]
	series.Points = make([]models.MetricPoint, 0, len(stream.Values))
	for _, pair := range stream.Values {
		v := float64(pair.Value)
		series.Points = append(series.Points, models.MetricPoint{
			Timestamp: pair.Timestamp.Time(),
			Value:     v,
		})
		if v > series.Max {
			series.Max = v
		}
	}
	if n := len(series.Points); n > 0 {
		series.Latest = series.Points[n-1].Value
	}
	return series
}
