// Package notifier delivers check notifications asynchronously.
//
// Callers hand over plain text with Notify, which never blocks on the
// network: messages go into a bounded queue drained by a small worker pool
// that applies a token-bucket rate limit and retries failed sends with
// jittered exponential backoff.
//
// # Transport
//
// Delivery is delegated to a transport.Adapter (Telegram, or the console
// backend used for testing). The notifier only knows the destination chat.
//
// # History
//
// The service keeps a small in-memory history of delivered messages. It is
// shown by the /history command when run storage is disabled.
package notifier
