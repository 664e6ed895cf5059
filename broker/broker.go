// Package broker serializes access to the shared Webex client identity.
// The SDK client carries exactly one active credential at a time, so any
// sequence of calls performed "as" a specific user is a critical section:
// token swap, one or more API calls, restore. The broker grants that section
// to one holder at a time with FIFO fairness.
package broker

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/onnwee/calls-relay/webexapi"
)

// ErrLockTimeout is returned when the identity slot could not be acquired
// before the configured timeout, typically because an upstream call is
// hanging inside another holder's critical section.
var ErrLockTimeout = errors.New("timed out waiting for the shared client identity")

// Broker owns the single client identity slot. All impersonated operations
// must go through WithIdentity; calling the shared client directly while
// another identity is active would cross-post messages or register webhooks
// under the wrong user.
type Broker struct {
	sem            *semaphore.Weighted
	client         *webexapi.Client
	acquireTimeout time.Duration
}

// New wraps the shared client. acquireTimeout bounds how long a caller waits
// for the slot; zero disables the bound.
func New(client *webexapi.Client, acquireTimeout time.Duration) *Broker {
	return &Broker{
		sem:            semaphore.NewWeighted(1),
		client:         client,
		acquireTimeout: acquireTimeout,
	}
}

// WithIdentity acquires the identity slot, swaps the client's active
// credential to accessToken, runs fn, and restores the previous credential.
// The slot is released on every exit path; fn's error is propagated after
// release without retry.
func (b *Broker) WithIdentity(ctx context.Context, accessToken string, fn func(ctx context.Context, c *webexapi.Client) error) error {
	actx := ctx
	if b.acquireTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, b.acquireTimeout)
		defer cancel()
	}
	if err := b.sem.Acquire(actx, 1); err != nil {
		if ctx.Err() == nil {
			return ErrLockTimeout
		}
		return err
	}
	defer b.sem.Release(1)

	prev := b.client.Token()
	b.client.SetToken(accessToken)
	defer b.client.SetToken(prev)

	return fn(ctx, b.client)
}
