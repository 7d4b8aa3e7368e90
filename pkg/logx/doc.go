// Package logx configures broadcastbot's structured logging.
//
// Logger is a small value type over zerolog:
//   - console output stays readable (short timestamp, short caller)
//   - file output is JSON
//   - an optional Telegram sink forwards WARN+ lines to a log chat, rate limited
package logx
