// Package retry retries operations that fail with transient errors.
//
// Errors are classified with the project's errors package: fatal and invalid
// errors end the loop immediately, anything else is retried with exponential
// backoff until the policy's attempts run out or the context is done.
//
//	client, err := retry.Value(ctx, retry.Startup(), func(ctx context.Context) (*Conn, error) {
//	    return dial(ctx)
//	})
package retry
