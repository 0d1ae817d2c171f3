// Package logger wraps zap to give the service:
//   - a global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithKV),
//   - level parsing and adjustment,
//   - printf and key-value helpers that read the logger from a context.
//
// Components take a context and log through it so that camera and source
// names travel with every line.
package logger
