package energylens

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

func seriesByName(req *prompb.WriteRequest, name string) []prompb.TimeSeries {
	var out []prompb.TimeSeries
	for _, ts := range req.Timeseries {
		for _, l := range ts.Labels {
			if l.Name == "__name__" && l.Value == name {
				out = append(out, ts)
			}
		}
	}
	return out
}

func labelValue(ts prompb.TimeSeries, name string) string {
	for _, l := range ts.Labels {
		if l.Name == name {
			return l.Value
		}
	}
	return ""
}

func TestBuildWriteRequest(t *testing.T) {
	run := analyzedRun(t)
	req := BuildWriteRequest(run, map[string]string{"household": "h1"})

	hourly := seriesByName(req, "energylens_hourly_kwh")
	if len(hourly) != 1 || len(hourly[0].Samples) != 48 {
		t.Fatalf("expected one hourly series with 48 samples, got %v", hourly)
	}
	first := time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC).UnixMilli()
	if hourly[0].Samples[0].Timestamp != first {
		t.Errorf("expected first sample at %d, got %d", first, hourly[0].Samples[0].Timestamp)
	}
	if labelValue(hourly[0], "household") != "h1" || labelValue(hourly[0], "run_id") != run.RunID {
		t.Errorf("missing labels: %v", hourly[0].Labels)
	}
	for i := 1; i < len(hourly[0].Labels); i++ {
		if hourly[0].Labels[i-1].Name > hourly[0].Labels[i].Name {
			t.Errorf("labels must be sorted: %v", hourly[0].Labels)
		}
	}

	if scores := seriesByName(req, "energylens_anomaly_score"); len(scores) != 1 || len(scores[0].Samples) != 48 {
		t.Error("expected 48 anomaly scores")
	}
	fc := seriesByName(req, "energylens_forecast_kwh")
	if len(fc) != 1 || len(fc[0].Samples) != DefaultForecastHours {
		t.Fatalf("expected %d forecast samples", DefaultForecastHours)
	}
	if want := first + 48*time.Hour.Milliseconds(); fc[0].Samples[0].Timestamp != want {
		t.Errorf("forecast should start after the last row, got %d want %d", fc[0].Samples[0].Timestamp, want)
	}

	appliances := seriesByName(req, "energylens_appliance_kwh")
	if len(appliances) != 2 {
		t.Fatalf("expected 2 appliance series, got %d", len(appliances))
	}
	if labelValue(appliances[0], "appliance") != "Kitchen" || appliances[0].Samples[0].Value != 24 {
		t.Errorf("unexpected kitchen series: %v", appliances[0])
	}

	total := seriesByName(req, "energylens_total_kwh")
	if len(total) != 1 || total[0].Samples[0].Value != run.Summary.TotalKWh {
		t.Errorf("unexpected total series: %v", total)
	}
}

func TestBuildWriteRequestWithoutRowData(t *testing.T) {
	run := analyzedRun(t)
	run.Anomalies = nil

	req := BuildWriteRequest(run, nil)
	if len(seriesByName(req, "energylens_hourly_kwh")) != 0 {
		t.Error("expected no hourly series without row data")
	}
	fc := seriesByName(req, "energylens_forecast_kwh")
	if len(fc) != 1 || fc[0].Samples[0].Timestamp != run.Forecast[0].Time.UnixMilli() {
		t.Error("forecast samples should use forecast timestamps")
	}
}

func TestRemoteWriterPostsSnappyProtobuf(t *testing.T) {
	var received atomic.Pointer[prompb.WriteRequest]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "snappy" || r.Header.Get("Content-Type") != "application/x-protobuf" {
			http.Error(w, "bad headers", http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		raw, err := snappy.Decode(nil, body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req prompb.WriteRequest
		if err := req.Unmarshal(raw); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		received.Store(&req)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w, err := NewRemoteWriter(RemoteWriteConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewRemoteWriter failed: %v", err)
	}
	run := analyzedRun(t)
	if err := w.Deliver(context.Background(), run); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	got := received.Load()
	if got == nil {
		t.Fatal("server received nothing")
	}
	if len(seriesByName(got, "energylens_total_kwh")) != 1 {
		t.Error("expected the total series in the decoded request")
	}
}

func TestRemoteWriterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w, _ := NewRemoteWriter(RemoteWriteConfig{
		URL:   srv.URL,
		Retry: RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond},
	})
	if err := w.Write(context.Background(), analyzedRun(t)); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestRemoteWriterDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	w, _ := NewRemoteWriter(RemoteWriteConfig{
		URL:   srv.URL,
		Retry: RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond},
	})
	err := w.Write(context.Background(), analyzedRun(t))
	var se *statusError
	if !errors.As(err, &se) || se.code != http.StatusBadRequest {
		t.Fatalf("expected a 400 status error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}

	if _, err := NewRemoteWriter(RemoteWriteConfig{}); err == nil {
		t.Error("expected missing url to fail")
	}
}
