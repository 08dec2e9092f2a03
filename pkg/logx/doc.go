// Package logx configures econbot's structured logging.
//
// A small wrapper (logx.Logger) over zerolog keeps console output short and
// readable, writes JSON lines to an optional size-rotated file, and can mirror warnings to
// a Telegram log chat with a minimum level and a rate limit.
package logx
