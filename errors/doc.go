// Package errors implements the three-class error taxonomy used across
// photoshow: Transient (temporary, served from a fallback or retried),
// Invalid (bad input, never retried) and Fatal (misconfiguration, stop).
//
// # Wrapping
//
// All wrapping follows "component.method: action failed: cause":
//
//	if err := bucket.Put(ctx, key, data); err != nil {
//	    return errors.WrapTransient(err, "KVStore", "Init", "put images")
//	}
//
// # Classification
//
// Read paths in the cache core treat every transient error as a signal to
// fall back to the next tier (memory mirror, last known good value, default).
// Write paths return the classified error to the caller after the local tier
// has been updated:
//
//	if err := store.AddOrUpdate(ctx, rec); err != nil {
//	    if errors.IsTransient(err) {
//	        // mirror already holds rec; report degraded state
//	    }
//	}
//
// OnlyTransient adapts an operation for retry.Do so that invalid and fatal
// errors stop the retry loop immediately.
package errors
