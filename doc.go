// Package l1mock is a single-node mock-up of the L1 fast radio burst search
// pipeline.
//
// # Pipeline
//
// Data flows through five stages wired by the engine:
//
//	source -> preprocess -> dedisperse -> sift -> actions
//
// A source produces intensity chunks: fixed-size blocks of
// (channel, polarization, time) samples with per-sample weights. Sources
// include live VDIF baseband ingestion over UDP, replay of saved VDIF
// acquisitions, replay of saved intensity streams, and a simulator. Baseband
// sources square and integrate the electric field samples down to intensity
// (the L0 step) before chunks enter the pipeline.
//
// The preprocessor collapses polarizations, detrends each channel, and
// optionally injects synthetic dispersed pulses at a configured rate for
// end-to-end testing. The dedisperser runs one or more brute-force search
// trees in parallel, each covering a dispersion-measure grid at its own time
// resolution, and emits candidates that clear the detection floor. The
// sifter applies the configured threshold and collapses coincident
// candidates into single triggers. The dispatcher fans each trigger out to
// the configured actions: print to stdout, send headers over TCP, publish to
// NATS, broadcast to WebSocket monitors, save the surrounding raw data, or
// render a waterfall plot.
//
// # Components
//
// Sources and actions are components: they implement the lifecycle contract
// in package component and are created from configuration through a factory
// registry. Processing stages (preprocess, dedisperse, sift) are plain
// pipeline stages constructed directly by the engine.
//
// The cmd/l1mock binary loads a YAML configuration (see configs/example.yaml),
// registers the built-in components, and runs the pipeline until the source
// runs dry or a shutdown signal arrives. Prometheus metrics are served on
// the configured port.
package l1mock
