// Package notifier turns persisted task status changes into messages.
//
// The service subscribes to eventbus.TypeStatusChanged and pushes a message
// for every change through a bounded queue to a small worker pool. Workers
// share one rate limiter and retry each sink with jittered exponential
// backoff.
//
// Delivery is best effort. A full queue or a failing sink is logged and
// counted; it never reaches back into the timer state, which is already
// saved by the time an event is published.
//
// # Sinks
//
// LogSink writes a structured log line. TelegramSink sends to one chat (and
// optional topic) through telebot and doubles as the logx alert forwarder.
package notifier
