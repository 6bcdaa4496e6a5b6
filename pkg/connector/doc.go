// Package connector holds the framework the tap's sources are built on.
//
// # Architecture Overview
//
// The connector package is organized into several sub-packages:
//
//   - core: Defines the Source and Sink interfaces, the stream Catalog and
//     the bookmark State that is handed to a sync and advanced in place.
//
//   - base: Provides BaseConnector, which every source embeds for its
//     identity, component logger, configuration and retry policy, plus the
//     ProgressReporter used for "N of M" logging.
//
//   - registry: Implements a factory pattern for connector instantiation.
//     Sources self-register from an init function.
//
//   - sources: Contains the source implementations. Outbrain is the only
//     one today.
//
// # Example Usage
//
//	source, err := registry.CreateSource("outbrain", cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := source.Initialize(ctx, cfg); err != nil {
//		log.Fatal(err)
//	}
//	defer source.Close(ctx)
//
//	err = source.Sync(ctx, state, singer.NewWriter(os.Stdout))
//
// A Sink receives SCHEMA, RECORD and STATE events in order. State is only
// emitted after the records it covers, so a run that fails part way can be
// resumed from the last STATE message without losing rows.
package connector
