// Package audit buffers security events off the request path and hands them
// to sinks on a single goroutine.
//
// A [Dispatcher] either blocks or drops when its buffer is full. In drop
// mode, events matched by Config.Critical get a short wait before they are
// counted as dropped. Sinks: [ZapSink] for the process log,
// [JSONWriterSink] for JSON lines, [KafkaSink] for a topic keyed by
// principal, [MultiSink] to fan out, and [ChannelSink] for tests.
//
// Which events exist, and which of them are critical, is decided by the
// Engine. This package never imports portalauth.
package audit
