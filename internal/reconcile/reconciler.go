// Package reconcile tracks per-entity subscriptions against the remote
// backend and classifies incoming push events.
//
// Connectivity events (peer connect/disconnect, network status) are
// applied to the engine's connectivity state directly. Every other kind
// is domain state the engine does not understand; those are parked in a
// pending queue and forwarded to the consumer callback, and it is the
// consumer's job to clear the queue after processing.
package reconcile

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/willief/communitas-sub001/internal/connectivity"
	"github.com/willief/communitas-sub001/internal/logging"
	"github.com/willief/communitas-sub001/internal/metrics"
	"github.com/willief/communitas-sub001/pkg/remote"
)

// Callback receives domain events as they arrive.
type Callback func(remote.PushEvent)

// Reconciler owns the Subscription Set: the set of entity ids the backend
// has been told to push events for. It always converges the remote set to
// the desired set, never issuing duplicate subscribe calls.
type Reconciler struct {
	backend remote.Backend
	monitor *connectivity.Monitor
	userID  string

	mu       sync.Mutex
	subs     map[string]struct{}
	inflight map[string]chan struct{}
	pending  []remote.PushEvent
	callback Callback
}

// New creates a reconciler for the given user session.
func New(backend remote.Backend, monitor *connectivity.Monitor, userID string) *Reconciler {
	return &Reconciler{
		backend:  backend,
		monitor:  monitor,
		userID:   userID,
		subs:     make(map[string]struct{}),
		inflight: make(map[string]chan struct{}),
	}
}

// SetCallback registers the consumer's domain event handler. A nil
// callback leaves events in the pending queue only.
func (r *Reconciler) SetCallback(cb Callback) {
	r.mu.Lock()
	r.callback = cb
	r.mu.Unlock()
}

// Subscribe registers interest in an entity. Idempotent: subscribing to an
// already-subscribed entity is a no-op and issues no remote call, even when
// callers race. A remote failure is surfaced to the caller but leaves the
// engine healthy.
func (r *Reconciler) Subscribe(ctx context.Context, entityID string) error {
	return r.setSubscribed(ctx, entityID, true)
}

// Unsubscribe removes interest in an entity. Idempotent.
func (r *Reconciler) Unsubscribe(ctx context.Context, entityID string) error {
	return r.setSubscribed(ctx, entityID, false)
}

// setSubscribed converges one entity's membership. The entity id is
// reserved in the inflight map before the remote call so the membership
// check and the reservation happen under one lock hold; concurrent callers
// for the same entity wait for the in-flight call and then re-check.
func (r *Reconciler) setSubscribed(ctx context.Context, entityID string, subscribed bool) error {
	for {
		r.mu.Lock()
		if wait, busy := r.inflight[entityID]; busy {
			r.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if _, ok := r.subs[entityID]; ok == subscribed {
			r.mu.Unlock()
			return nil
		}

		done := make(chan struct{})
		r.inflight[entityID] = done
		r.mu.Unlock()

		var err error
		if subscribed {
			err = r.backend.SubscribeEntity(ctx, entityID, r.userID)
		} else {
			err = r.backend.UnsubscribeEntity(ctx, entityID, r.userID)
		}

		r.mu.Lock()
		delete(r.inflight, entityID)
		close(done)
		if err == nil {
			if subscribed {
				r.subs[entityID] = struct{}{}
			} else {
				delete(r.subs, entityID)
			}
			metrics.SetSubscriptionsActive(len(r.subs))
		}
		r.mu.Unlock()

		if err != nil {
			verb := "subscribe"
			if !subscribed {
				verb = "unsubscribe"
			}
			logging.Warn("entity "+verb+" failed",
				zap.String("entity", entityID), zap.Error(err))
			return err
		}
		return nil
	}
}

// Reconcile converges the Subscription Set to the desired entity list:
// subscribe to additions, unsubscribe from removals, touch nothing else.
// The first error is returned after the whole delta has been attempted.
func (r *Reconciler) Reconcile(ctx context.Context, desired []string) error {
	want := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		want[id] = struct{}{}
	}

	r.mu.Lock()
	var added, removed []string
	for id := range want {
		if _, ok := r.subs[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range r.subs {
		if _, ok := want[id]; !ok {
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()

	var firstErr error
	for _, id := range added {
		if err := r.Subscribe(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, id := range removed {
		if err := r.Unsubscribe(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribed returns the current Subscription Set.
func (r *Reconciler) Subscribed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	return ids
}

// HandleEvent dispatches a push event. Connectivity kinds update the
// monitor; everything else goes to the pending queue and the callback.
func (r *Reconciler) HandleEvent(ctx context.Context, ev remote.PushEvent) {
	metrics.RecordPushEvent(string(ev.Kind))

	switch ev.Kind {
	case remote.EventPeerConnected:
		r.monitor.PeerConnected()
		return
	case remote.EventPeerDisconnected:
		r.monitor.PeerDisconnected()
		return
	case remote.EventNetworkStatusChanged:
		if ev.Status != nil {
			r.monitor.ApplyStatus(ctx, *ev.Status)
		}
		return
	}

	r.mu.Lock()
	r.pending = append(r.pending, ev)
	cb := r.callback
	r.mu.Unlock()

	if cb != nil {
		cb(ev)
	}
}

// Pending returns a copy of the unprocessed domain events. The engine
// never drains this itself; call ClearPending once the events have been
// applied.
func (r *Reconciler) Pending() []remote.PushEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]remote.PushEvent, len(r.pending))
	copy(out, r.pending)
	return out
}

// ClearPending empties the pending queue.
func (r *Reconciler) ClearPending() {
	r.mu.Lock()
	r.pending = nil
	r.mu.Unlock()
}

// Close unsubscribes every entity. Teardown must not leave dangling
// remote subscriptions; individual failures are logged and skipped so the
// rest of the set still gets released.
func (r *Reconciler) Close(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Unsubscribe(ctx, id); err != nil {
			logging.Warn("teardown unsubscribe failed",
				zap.String("entity", id), zap.Error(err))
			// Drop it from the local set anyway; the session is ending.
			r.mu.Lock()
			delete(r.subs, id)
			metrics.SetSubscriptionsActive(len(r.subs))
			r.mu.Unlock()
		}
	}
}
