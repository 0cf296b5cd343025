// Package notify hands one-time codes to the outbound messaging service.
//
// [Queue] decouples the request path from delivery; [KafkaSender] publishes
// to a topic and [LogSender] prints codes for local development.
package notify
