package energylens

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	previewRows      = 5
	maxForecastHours = 168
)

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	RunID           string           `json:"run_id"`
	Rows            int              `json:"rows"`
	Columns         []string         `json:"columns"`
	Sample          []map[string]any `json:"sample"`
	Summary         Summary          `json:"summary"`
	AnomalyRows     []int            `json:"anomaly_rows"`
	Recommendations []string         `json:"recommendations"`
}

// AnomaliesResponse is returned by GET /anomalies.
type AnomaliesResponse struct {
	Contamination float64          `json:"contamination"`
	Threshold     float64          `json:"threshold"`
	Count         int              `json:"count"`
	AnomalyRows   []int            `json:"anomaly_rows"`
	Records       []map[string]any `json:"records"`
}

// SummaryResponse is returned by GET /summary.
type SummaryResponse struct {
	RunID           string      `json:"run_id"`
	CreatedAt       time.Time   `json:"created_at"`
	Summary         Summary     `json:"summary"`
	Trend           *TrendModel `json:"trend,omitempty"`
	Recommendations []string    `json:"recommendations"`
}

func setupAnalysisRoutes(mux *http.ServeMux, s *Service, wrap middlewareWrapper) {
	mux.HandleFunc("POST /upload", wrap("upload", func(w http.ResponseWriter, r *http.Request) {
		limit := s.config.HTTP.MaxUploadBytes
		if limit <= 0 {
			limit = maxBodySize
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)

		body, closeBody, err := uploadReader(r)
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeError(w, err)
				return
			}
			jsonError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		defer closeBody()

		table, err := ReadCSV(body)
		if err != nil {
			writeError(w, err)
			return
		}
		run, err := s.Load(r.Context(), table)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, UploadResponse{
			RunID:           run.RunID,
			Rows:            table.Len(),
			Columns:         table.Columns(),
			Sample:          run.Anomalies.Preview(previewRows),
			Summary:         run.Summary,
			AnomalyRows:     run.AnomalyRows,
			Recommendations: run.Recommendations,
		})
	}))

	mux.HandleFunc("GET /forecast", wrap("forecast", func(w http.ResponseWriter, r *http.Request) {
		table, _, err := s.Current()
		if err != nil {
			writeError(w, err)
			return
		}
		hours := s.analyzer.Config().ForecastHours
		if v := r.URL.Query().Get("hours"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 || n > maxForecastHours {
				jsonError(w, http.StatusBadRequest, "bad_parameter",
					fmt.Sprintf("hours must be an integer in [0, %d]", maxForecastHours))
				return
			}
			hours = n
		}
		points, err := NewForecaster().Forecast(table, hours)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, points)
	}))

	mux.HandleFunc("GET /report", wrap("report", func(w http.ResponseWriter, r *http.Request) {
		_, run, err := s.Current()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, run.Report)
	}))

	mux.HandleFunc("GET /anomalies", wrap("anomalies", func(w http.ResponseWriter, r *http.Request) {
		table, run, err := s.Current()
		if err != nil {
			writeError(w, err)
			return
		}
		res := run.Anomalies
		if v := r.URL.Query().Get("contamination"); v != "" {
			c, err := strconv.ParseFloat(v, 64)
			if err != nil {
				writeError(w, ErrInvalidContamination)
				return
			}
			if res, err = NewAnomalyDetector(s.analyzer.Config().Anomaly).DetectWithContamination(table, c); err != nil {
				writeError(w, err)
				return
			}
		}
		writeJSON(w, AnomaliesResponse{
			Contamination: res.Contamination,
			Threshold:     res.Threshold,
			Count:         res.Count(),
			AnomalyRows:   res.Indices(),
			Records:       res.Records(),
		})
	}))

	mux.HandleFunc("GET /summary", wrap("summary", func(w http.ResponseWriter, r *http.Request) {
		_, run, err := s.Current()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, SummaryResponse{
			RunID:           run.RunID,
			CreatedAt:       run.CreatedAt,
			Summary:         run.Summary,
			Trend:           run.Trend,
			Recommendations: run.Recommendations,
		})
	}))

	mux.HandleFunc("GET /planner", wrap("planner", func(w http.ResponseWriter, r *http.Request) {
		table, _, err := s.Current()
		if err != nil {
			writeError(w, err)
			return
		}
		slots, err := s.planner.Schedule(table)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, slots)
	}))

	mux.HandleFunc("GET /budget-planner", wrap("budget-planner", func(w http.ResponseWriter, r *http.Request) {
		table, _, err := s.Current()
		if err != nil {
			writeError(w, err)
			return
		}
		q := r.URL.Query()
		budget, err := strconv.ParseFloat(q.Get("budget"), 64)
		if err != nil {
			writeError(w, ErrInvalidBudget)
			return
		}
		plan, err := s.planner.Budget(table, budget, q.Get("category"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, plan)
	}))
}

func setupRunRoutes(mux *http.ServeMux, s *Service, wrap middlewareWrapper) {
	mux.HandleFunc("GET /runs", wrap("runs", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				jsonError(w, http.StatusBadRequest, "bad_parameter", "limit must be a positive integer")
				return
			}
			limit = n
		}
		runs, err := s.Runs(r.Context(), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, runs)
	}))

	mux.HandleFunc("GET /runs/{id}", wrap("run", func(w http.ResponseWriter, r *http.Request) {
		run, err := s.Run(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, run)
	}))

	mux.HandleFunc("GET /appliances/{name}/history", wrap("appliance-history", func(w http.ResponseWriter, r *http.Request) {
		points, err := s.ApplianceHistory(r.Context(), r.PathValue("name"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, points)
	}))
}

func setupOpsRoutes(mux *http.ServeMux, s *Service, wrap middlewareWrapper) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		if table, run, err := s.Current(); err == nil {
			resp["rows"] = table.Len()
			resp["run_id"] = run.RunID
		}
		if s.events != nil {
			resp["subscribers"] = s.events.Count()
		}
		writeJSON(w, resp)
	})

	mux.Handle("GET /metrics", wrap("metrics", s.metrics.Handler().ServeHTTP))

	if s.events != nil {
		mux.HandleFunc("GET /ws", wrap("ws", s.events.WebSocketHandler()))
	}
}

// uploadReader returns the CSV body of a multipart "file" field or of the raw
// request body.
func uploadReader(r *http.Request) (io.Reader, func(), error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		return r.Body, func() {}, nil
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, nil, fmt.Errorf("multipart upload must carry a \"file\" field: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
