// Package natsclient manages the NATS connection used by the external
// key-value cache backend.
//
// A Client wraps a single nats.Conn and its JetStream context behind a
// circuit breaker: after a run of failures the circuit opens and every
// call fails fast with ErrCircuitOpen until the backoff elapses, at which
// point the next call may try again. Each reopening doubles the backoff.
//
// KVStore adds compare-and-swap helpers on top of a jetstream.KeyValue
// bucket:
//
//	kv := client.NewKVStore(bucket)
//	err := kv.UpdateWithRetry(ctx, "generation.count.2024-01-02",
//		func(current []byte) ([]byte, error) {
//			n, _ := strconv.Atoi(string(current))
//			return []byte(strconv.Itoa(n + 1)), nil
//		})
//
// TestClient starts a disposable NATS server with testcontainers-go for
// integration tests.
package natsclient
