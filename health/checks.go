package health

import (
	"context"
	"fmt"

	"github.com/xmx0632/photoshow/imagecache"
	"github.com/xmx0632/photoshow/natsclient"
	"github.com/xmx0632/photoshow/storage"
	"github.com/xmx0632/photoshow/storage/cachestore"
)

// NATSCheck reports the NATS connection. A lost connection only degrades
// the service since the cache falls back to memory.
func NATSCheck(client *natsclient.Client) Checker {
	return CheckFunc(func(context.Context) Status {
		st := client.GetStatus()
		if st.Status == natsclient.StatusConnected {
			return NewHealthy("nats", "connected").WithDetail("rtt_ms", st.RTT.Milliseconds())
		}
		return NewDegraded("nats", st.Status.String()).WithDetail("failures", st.FailureCount)
	})
}

// connectedStore is implemented by stores with a remote primary tier.
type connectedStore interface {
	Connected() bool
}

// StoreCheck reports the cache backing store.
func StoreCheck(store cachestore.Store) Checker {
	return CheckFunc(func(ctx context.Context) Status {
		if c, ok := store.(connectedStore); ok && !c.Connected() {
			return NewDegraded("cache_store", "serving from memory mirror").WithDetail("backend", store.Name())
		}
		if _, err := store.IsInitialized(ctx); err != nil {
			return FromError("cache_store", err, StateUnhealthy)
		}
		return NewHealthy("cache_store", "ok").WithDetail("backend", store.Name())
	})
}

// RefresherCheck reports the last background refresh.
func RefresherCheck(status func() imagecache.RefreshStatus) Checker {
	return CheckFunc(func(context.Context) Status {
		st := status()
		if st.LastError != "" {
			return NewDegraded("refresher", SanitizeMessage(st.LastError)).WithDetail("runs", st.Runs)
		}
		return NewHealthy("refresher", fmt.Sprintf("%d images", st.LastCount)).
			WithDetail("runs", st.Runs).
			WithDetail("in_flight", st.InFlight)
	})
}

// UsageCheck reports object storage reachability and quota use.
func UsageCheck(objects storage.ObjectStore) Checker {
	return CheckFunc(func(ctx context.Context) Status {
		u, err := objects.Usage(ctx)
		if err != nil {
			return FromError("object_store", err, StateUnhealthy)
		}
		st := NewHealthy("object_store", "ok")
		if u.Warning {
			st = NewDegraded("object_store", "storage quota nearly used")
		}
		return st.WithDetail("used_fraction", u.UsedFraction)
	})
}
