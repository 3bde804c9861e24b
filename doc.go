// Package eventflow is an in-process event-stream dataflow engine:
// events flow as dynamic value trees through directed acyclic graphs
// of operators, scripted with a small expression language.
//
// # Architecture
//
// The engine is built from four layers, each its own package:
//
//   - value: the dynamic value model. Events carry JSON-shaped trees
//     (nil, bool, int64, float64, string, []any, map[string]any) that
//     an event owns exclusively, so operators mutate in place and
//     copies happen only at fan-out.
//
//   - script: the expression language. Scripts compile to an AST with
//     constant folding, then interpret against an event, persistent
//     per-operator state, and event metadata. The language provides
//     structural pattern matching (match/case over record, array and
//     tuple patterns with extractors), patch/merge mutation, for
//     comprehensions, user functions with tail recursion, and
//     aggregate functions for windowed computation.
//
//   - pipeline: the execution runtime. A pipeline compiles node and
//     link definitions into an executable graph, then runs it on a
//     single goroutine fed by one bounded channel. Events flow
//     forward; signals (ticks, start, stop) broadcast to interested
//     operators; insights flow backwards against the links and drive
//     circuit-breaker notifications to registered sources. A manager
//     owns a deployment of pipelines and starts and stops them as a
//     unit.
//
//   - config: YAML deployment definitions, validated against a JSON
//     schema and compiled into deployed pipelines. Scripts compile at
//     build time, so a bad deployment never starts.
//
// Supporting packages: errors (classified error wrapping), metric
// (Prometheus registry and HTTP endpoint), pkg/cache, pkg/retry and
// pkg/timestamp (generic utilities).
//
// The cmd/eventflow binary ties the layers together: JSON lines on
// stdin, through the configured pipelines, JSON lines on stdout.
package eventflow
