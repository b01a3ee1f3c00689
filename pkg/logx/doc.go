// Package logx wraps zerolog behind a small Logger value with typed fields.
//
// A Service fans records out to the console writer, an optional appended
// JSON file, and an optional Telegram chat sink that drops records below
// its level and throttles bursts. Apply swaps sinks without rebuilding
// loggers already handed out.
package logx
