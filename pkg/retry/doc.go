// Package retry runs an operation a bounded number of times with a growing
// delay between attempts.
//
// Two growth strategies exist. BackoffExponential (the default) multiplies the
// delay by Multiplier; BackoffLinear adds InitialDelay each time and is what
// the key-value connector uses so that a dead server costs at most a few
// short waits:
//
//	err := retry.Do(ctx, retry.Linear(3, 200*time.Millisecond), func() error {
//	    return client.Connect(ctx)
//	})
//
// Wrap an error with NonRetryable to stop immediately.
package retry
