// Package energylens analyses hourly household electricity exports.
//
// A dataset is a CSV with one row per hour: a whole-house total_kwh column,
// any number of per-appliance *_kwh columns and an optional datetime column.
// Three components run over it:
//   - [AnomalyDetector] flags unusual hours with an isolation forest
//   - [Forecaster] extrapolates the total with a least-squares trend line
//   - [ApplianceReporter] rates every appliance by usage, cost and CO2
//
// # Basic Usage
//
// Analyse a file once:
//
//	t, err := energylens.LoadCSVFile("usage.csv")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	run, err := energylens.NewAnalyzer(energylens.DefaultAnalysisConfig(), nil).
//	    Analyze(ctx, t)
//
// Or run the HTTP service, which keeps the latest upload in memory:
//
//	cfg, err := energylens.LoadConfig("energylens.yaml")
//	svc, err := energylens.NewService(ctx, cfg)
//	defer svc.Close()
//	err = svc.ListenAndServe(ctx)
//
// # Sinks
//
// Every completed analysis is handed to the configured [ResultSink]s:
//   - SQLite or PostgreSQL run history ([SQLStore])
//   - JSON bundles on memory, disk or S3, optionally sealed ([Archive])
//   - Prometheus remote write ([RemoteWriter])
//   - Kafka and MQTT messages ([KafkaPublisher], [MQTTPublisher])
//   - websocket subscribers ([EventHub])
//
// A failing sink is logged and counted; it never fails the analysis.
//
// # Configuration
//
// [DefaultConfig] is usable as is. [LoadConfig] layers a YAML file and
// ENERGYLENS_* environment variables on top of it.
package energylens
