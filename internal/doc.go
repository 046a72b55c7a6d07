// Package internal contains the implementation packages of the assetforge
// CLI.
//
// # Package Organization
//
//   - asset: source snapshots, output artifacts and path normalization
//   - hasher: content fingerprints and cache-busted file names
//   - graph: the task registry and the artifact to source dependency graph
//   - pipeline: ordered transform stages with per-stage error context
//   - markup, lint, plugins: the HTML, lint and external-command transforms
//   - tasks: the concrete task set (style, js, html, images, svg, fonts, ...)
//   - scheduler: concurrent, predecessor-ordered execution of a task set
//   - watcher: fsnotify events, debouncing and incremental rebuilds
//   - server, websocket: the development server and live-reload hub
//   - config, logging, errors, validation, version: ambient support
//
// # Data Flow
//
// The watcher turns file events into a set of changed paths. The graph maps
// those paths to the tasks that read them, the scheduler reruns those tasks
// and their predecessors, and the server pushes a live-reload message for
// every task whose outputs under the destination changed.
package internal
