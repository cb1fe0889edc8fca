// Package logx is scoutbot's logging wrapper around zerolog.
//
// Console output is human readable with a short caller, file output is JSON,
// and an optional Telegram sink forwards records at or above a minimum level
// to a log chat, rate limited.
package logx
