// Package natsclient manages the relay's NATS connection.
//
// A Client dials through a circuit breaker, then leaves reconnection to
// nats.go and tracks the resulting status. It offers what the relay uses:
// channel subscriptions for the inbound and command channels, header-carrying
// publishes for the outbound channel, and JetStream key-value buckets for
// parameter persistence. Subscriptions made through the client are removed
// and the connection drained on Close.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("smoothbus"),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
// # Circuit Breaker
//
// Five consecutive failed dials (see WithCircuitBreaker) open the circuit for
// one second. While open, Connect and CreateKeyValueBucket fail with
// ErrCircuitOpen and Status reports StatusCircuitOpen. Every further opening
// doubles the wait up to the configured maximum; a successful dial resets it.
//
// # Key-Value
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "smoothbus_params"})
//	store := client.NewKVStore(bucket, 2*time.Second)
//	entry, err := store.Get(ctx, "multiplier") // ErrKVKeyNotFound when unset
//
// # Testing
//
// NewTestClient starts a NATS server in a container with testcontainers-go.
// Tests that use it carry the integration build tag.
package natsclient
