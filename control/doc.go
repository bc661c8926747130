// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime metrics, hot-reload and debug introspection for
// services built on hioload-core.
//
// Provides:
//   - YAML configuration with defaults and validation, convertible to
//     server and thread pool options
//   - A snapshot store notifying listeners when the configuration is reloaded
//   - A Prometheus metrics registry keyed by service and metric name
//   - Debug probe registration and state export
package control
