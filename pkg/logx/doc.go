// Package logx configures quakebot's structured logging.
//
// Logger is a small value type over zerolog. Loggers derived from a Service
// follow Service.Apply, so a config reload changes level and sinks for every
// component at once. Sinks:
//   - console (human readable, short caller)
//   - JSON file
//   - operator forwarding of warnings and errors to a chat, rate limited
package logx
