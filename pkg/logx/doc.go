// Package logx configures tglogsink's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and rotated
//   - Extra sinks (the Telegram delivery sink) attachable at runtime
package logx
