// Package internal contains the core implementation packages for glimpse.
//
// This package follows Go's internal package convention, making these
// packages unavailable for import by external modules while providing
// all the core functionality for the glimpse CLI tool.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - app: Composition root wiring every component and its lifecycle
//   - config: Configuration management with loopback-only validation
//   - errors: Typed errors and the TeX log diagnostic parser
//   - eventbus: In-process publish/subscribe between ingress and bridge
//   - ingress: POST /update listener for editor document snapshots
//   - metrics: Prometheus collectors on a per-instance registry
//   - notifier: Line-click delivery to the editor over TCP
//   - ports: Fixed loopback ports and address helpers
//   - preamble: preamble.tex loading, the shared store and hot reload
//   - renderer: LaTeX to SVG through latex and dvisvgm, bounded and cached
//   - server: Frontend bridge with the websocket event stream and render API
//   - watcher: File system monitoring with debouncing
//
// # Inter-Package Communication
//
//   - The ingress emits markdown-update events on the bus
//   - The bridge subscribes once per websocket client and relays every event
//   - The renderer reads the preamble store on every render
//   - The watcher reloads the store, which purges the render cache
//
// # Security Considerations
//
//   - Every listener and dial target is validated to stay on loopback
//   - Toolchain commands reject shell metacharacters and run with fixed arguments
//   - Render workspaces are private temp directories removed after each run
//   - The websocket endpoint and every bridge POST check Origin against an
//     allow list, and POST bodies must be declared as JSON
package internal
