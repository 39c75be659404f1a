package energylens

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

// Service holds the current household dataset and its latest analysis, and
// owns every configured sink. It serves the HTTP API.
type Service struct {
	config   Config
	analyzer *Analyzer
	planner  *Planner
	metrics  *Metrics
	events   *EventHub
	store    ResultStore
	archive  *Archive
	closers  []io.Closer

	mu      sync.RWMutex
	dataset *Table
	last    *Analysis
}

// NewService opens the sinks named by cfg. Sinks that fail to open are fatal;
// sinks that fail later only log.
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		config:  cfg,
		planner: NewPlanner(cfg.Analysis.Planner),
		metrics: NewMetrics(),
	}

	var sinks []ResultSink
	fail := func(err error) (*Service, error) {
		_ = s.Close()
		return nil, err
	}

	switch cfg.Store.Driver {
	case "", "none":
	default:
		store, err := OpenStore(ctx, cfg.Store)
		if err != nil {
			return fail(err)
		}
		s.store = store
		s.closers = append(s.closers, store)
		sinks = append(sinks, store)
	}

	if cfg.Archive.Enabled && cfg.Archive.Backend != "none" {
		archive, err := OpenArchive(ctx, cfg.Archive)
		if err != nil {
			return fail(fmt.Errorf("archive: %w", err))
		}
		s.archive = archive
		s.closers = append(s.closers, archive)
		sinks = append(sinks, archive)
	}

	if cfg.RemoteWrite.Enabled {
		rw, err := NewRemoteWriter(cfg.RemoteWrite)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, rw)
	}

	if cfg.Publish.Kafka.Enabled {
		kp, err := NewKafkaPublisher(cfg.Publish.Kafka)
		if err != nil {
			return fail(err)
		}
		s.closers = append(s.closers, kp)
		sinks = append(sinks, kp)
	}

	if cfg.Publish.MQTT.Enabled {
		mp, err := NewMQTTPublisher(cfg.Publish.MQTT)
		if err != nil {
			return fail(err)
		}
		s.closers = append(s.closers, mp)
		sinks = append(sinks, mp)
	}

	if cfg.Stream.Enabled {
		s.events = NewEventHub(cfg.Stream)
		sinks = append(sinks, s.events)
	}

	s.analyzer = NewAnalyzer(cfg.Analysis, s.metrics, sinks...)
	names := make([]string, len(sinks))
	for i, sink := range sinks {
		names[i] = sink.Name()
	}
	slog.Info("energylens service ready", "sinks", names)
	return s, nil
}

// Load analyses t and makes it the current dataset.
func (s *Service) Load(ctx context.Context, t *Table) (*Analysis, error) {
	if s.events != nil {
		s.events.Publish(Event{Type: EventDatasetLoaded, Columns: t.Columns(), RowCount: t.Len()})
	}
	run, err := s.analyzer.Analyze(ctx, t)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.dataset = t
	s.last = run
	s.mu.Unlock()

	slog.Info("dataset analysed", "run_id", run.RunID, "rows", t.Len(),
		"appliances", len(run.Report), "anomalies", run.Summary.AnomalyCount)
	return run, nil
}

// Current returns the current dataset and its analysis.
func (s *Service) Current() (*Table, *Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dataset == nil {
		return nil, nil, ErrNoDataset
	}
	return s.dataset, s.last, nil
}

// Run returns a stored or archived run by id. The latest run is always found.
func (s *Service) Run(ctx context.Context, runID string) (*Analysis, error) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()
	if last != nil && last.RunID == runID {
		return last, nil
	}

	if s.store != nil {
		run, err := s.store.GetRun(ctx, runID)
		if err == nil || !errors.Is(err, ErrRunNotFound) {
			return run, err
		}
	}
	if s.archive != nil {
		return s.archive.Get(ctx, runID)
	}
	return nil, ErrRunNotFound
}

// Runs lists stored runs, newest first. Without a store, archived runs are listed.
func (s *Service) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	if s.store != nil {
		return s.store.ListRuns(ctx, limit)
	}
	out := []RunSummary{}
	if s.archive == nil {
		return out, nil
	}
	ids, err := s.archive.IDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		run, err := s.archive.Get(ctx, id)
		if err != nil {
			slog.Warn("skipping unreadable archived run", "run_id", id, "err", err)
			continue
		}
		out = append(out, RunSummary{
			RunID:        run.RunID,
			CreatedAt:    run.CreatedAt,
			Rows:         run.Summary.Rows,
			TotalKWh:     run.Summary.TotalKWh,
			AnomalyCount: run.Summary.AnomalyCount,
		})
	}
	sortRunsNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ApplianceHistory returns one appliance's report across stored runs, oldest
// first. Without a store, archived runs are searched.
func (s *Service) ApplianceHistory(ctx context.Context, appliance string) ([]AppliancePoint, error) {
	if s.store != nil {
		return s.store.ApplianceHistory(ctx, appliance)
	}
	out := []AppliancePoint{}
	if s.archive == nil {
		return out, nil
	}
	ids, err := s.archive.IDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		run, err := s.archive.Get(ctx, id)
		if err != nil {
			slog.Warn("skipping unreadable archived run", "run_id", id, "err", err)
			continue
		}
		col, ok := run.Schema.Appliance(appliance)
		if !ok {
			continue
		}
		for _, e := range run.Report {
			if e.Appliance != col.Name {
				continue
			}
			out = append(out, AppliancePoint{
				RunID:     run.RunID,
				CreatedAt: run.CreatedAt,
				Column:    col.Column,
				Appliance: e.Appliance,
				TotalKWh:  e.TotalKWh,
				Cost:      e.Cost,
				UsageTier: e.UsageTier,
			})
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func sortRunsNewestFirst(runs []RunSummary) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}

// Metrics returns the service metrics.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// Events returns the event hub, or nil when streaming is disabled.
func (s *Service) Events() *EventHub {
	return s.events
}

// Close closes every sink in reverse order of opening.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
