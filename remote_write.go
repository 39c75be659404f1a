package energylens

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// HTTPDoer is the subset of *http.Client used by outbound sinks.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// RemoteWriteConfig configures pushing run series to a Prometheus
// remote-write endpoint.
type RemoteWriteConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`

	// Labels are added to every series, e.g. a household id.
	Labels map[string]string `yaml:"labels"`

	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`

	HTTPClient HTTPDoer `yaml:"-"`
}

// RemoteWriter pushes the series of each analysis as one snappy-compressed
// prompb.WriteRequest.
type RemoteWriter struct {
	cfg     RemoteWriteConfig
	client  HTTPDoer
	retryer *Retryer
	cb      *CircuitBreaker
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("remote write returned status %d", e.code)
}

func retryableWriteError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return IsRetryable(err)
}

// NewRemoteWriter creates a writer for cfg.URL.
func NewRemoteWriter(cfg RemoteWriteConfig) (*RemoteWriter, error) {
	if cfg.URL == "" {
		return nil, errors.New("remote write url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.Retry.RetryIf = retryableWriteError
	return &RemoteWriter{
		cfg:     cfg,
		client:  client,
		retryer: NewRetryer(cfg.Retry),
		cb:      NewCircuitBreaker(5, 30*time.Second),
	}, nil
}

// Name implements ResultSink.
func (w *RemoteWriter) Name() string { return "remote-write" }

// Deliver implements ResultSink.
func (w *RemoteWriter) Deliver(ctx context.Context, run *Analysis) error {
	return w.Write(ctx, run)
}

// Write encodes run and posts it with retries.
func (w *RemoteWriter) Write(ctx context.Context, run *Analysis) error {
	req := BuildWriteRequest(run, w.cfg.Labels)
	raw, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal write request: %w", err)
	}
	payload := snappy.Encode(nil, raw)

	return w.cb.Execute(func() error {
		return w.retryer.Do(ctx, func() error { return w.send(ctx, payload) }).LastErr
	})
}

func (w *RemoteWriter) send(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// BuildWriteRequest converts an analysis into remote-write series:
// hourly totals, anomaly scores and forecast points per hour, plus one
// sample per appliance and summary figure at the run time.
func BuildWriteRequest(run *Analysis, extra map[string]string) *prompb.WriteRequest {
	runAt := run.CreatedAt
	base := func(name string, pairs ...string) []prompb.Label {
		labels := []prompb.Label{
			{Name: "__name__", Value: name},
			{Name: "run_id", Value: run.RunID},
		}
		for k, v := range extra {
			labels = append(labels, prompb.Label{Name: k, Value: v})
		}
		for i := 0; i+1 < len(pairs); i += 2 {
			labels = append(labels, prompb.Label{Name: pairs[i], Value: pairs[i+1]})
		}
		sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
		return labels
	}

	var series []prompb.TimeSeries

	var rowTimes []time.Time
	if res := run.Anomalies; res != nil && res.Table != nil {
		totals, _ := res.Table.column(TotalColumn)
		rowTimes = rowTimestamps(res.Table, runAt)

		hourly := prompb.TimeSeries{Labels: base("energylens_hourly_kwh")}
		scores := prompb.TimeSeries{Labels: base("energylens_anomaly_score")}
		for i, v := range totals {
			ms := rowTimes[i].UnixMilli()
			hourly.Samples = append(hourly.Samples, prompb.Sample{Value: v, Timestamp: ms})
			if i < len(res.Scores) {
				scores.Samples = append(scores.Samples, prompb.Sample{Value: res.Scores[i], Timestamp: ms})
			}
		}
		series = append(series, hourly, scores)
	}

	if len(run.Forecast) > 0 {
		fc := prompb.TimeSeries{Labels: base("energylens_forecast_kwh")}
		for i, p := range run.Forecast {
			ts := runAt.Add(time.Duration(i+1) * time.Hour)
			switch {
			case p.Time != nil:
				ts = *p.Time
			case len(rowTimes) > 0:
				ts = rowTimes[len(rowTimes)-1].Add(time.Duration(i+1) * time.Hour)
			}
			fc.Samples = append(fc.Samples, prompb.Sample{Value: p.PredictedKWh, Timestamp: ts.UnixMilli()})
		}
		series = append(series, fc)
	}

	ms := runAt.UnixMilli()
	for _, e := range run.Report {
		series = append(series,
			prompb.TimeSeries{
				Labels:  base("energylens_appliance_kwh", "appliance", e.Appliance),
				Samples: []prompb.Sample{{Value: e.TotalKWh, Timestamp: ms}},
			},
			prompb.TimeSeries{
				Labels:  base("energylens_appliance_eco_score", "appliance", e.Appliance),
				Samples: []prompb.Sample{{Value: e.EcoScore, Timestamp: ms}},
			},
		)
	}

	for name, v := range map[string]float64{
		"energylens_total_kwh":      run.Summary.TotalKWh,
		"energylens_estimated_bill": run.Summary.EstimatedBill,
		"energylens_anomaly_count":  float64(run.Summary.AnomalyCount),
	} {
		series = append(series, prompb.TimeSeries{
			Labels:  base(name),
			Samples: []prompb.Sample{{Value: v, Timestamp: ms}},
		})
	}

	return &prompb.WriteRequest{Timeseries: series}
}

// rowTimestamps returns the row times of t, or hourly times ending one hour
// before end when t has none.
func rowTimestamps(t *Table, end time.Time) []time.Time {
	if t.HasTimestamps() {
		return t.Timestamps()
	}
	n := t.Len()
	out := make([]time.Time, n)
	for i := range out {
		out[i] = end.Add(-time.Duration(n-i) * time.Hour)
	}
	return out
}
