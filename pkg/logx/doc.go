// Package logx configures pomotick's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional alert forwarding (min-level + rate limiting) to an external sink
package logx
