// Package pinpoints drives the generation of region pinballs: standalone,
// replayable captures of the representative intervals that SimPoint-style
// clustering selects from a whole-program execution.
//
// # Reading Guide
//
// Start with these files to understand the data model:
//   - region.go: Region, Row and Descriptor, the in-memory form of a regions CSV
//   - config.go: the immutable run configuration handed to every component
//   - errors.go: the error taxonomy shared by all sub-packages
//
// # Architecture
//
// The pinpoints package defines data types; the behavior lives in sub-packages:
//   - pinpoints/descriptor/: parse and write region descriptor CSV files
//   - pinpoints/artifact/: capture naming, result files, and the artifact prober
//   - pinpoints/dispatch/: bounded-concurrency launcher for the capture tool
//   - pinpoints/archive/: per-iteration archive of descriptors and discarded captures
//   - pinpoints/controller/: the pass loop (dispatch, probe, reduce, repeat)
//   - pinpoints/trace/: per-pass records for post-hoc analysis
//
// A run is driven by controller.Controller. Each pass dispatches one capture
// job per region in the work list, probes the artifact directory, and writes a
// reduced descriptor holding only the regions that came back missing or
// truncated. The loop is bounded by the cluster count of the original
// descriptor.
package pinpoints
