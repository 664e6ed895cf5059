package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/calls-relay/webexapi"
)

func TestWithIdentitySwapsAndRestoresToken(t *testing.T) {
	client := webexapi.NewClient("http://example.invalid", "bot-token")
	b := New(client, time.Second)

	var seen string
	err := b.WithIdentity(context.Background(), "user-token", func(ctx context.Context, c *webexapi.Client) error {
		seen = c.Token()
		return nil
	})
	if err != nil {
		t.Fatalf("WithIdentity: %v", err)
	}
	if seen != "user-token" {
		t.Errorf("token inside session = %q, want user-token", seen)
	}
	if got := client.Token(); got != "bot-token" {
		t.Errorf("token after session = %q, want bot-token", got)
	}
}

func TestWithIdentityRestoresTokenOnError(t *testing.T) {
	client := webexapi.NewClient("http://example.invalid", "bot-token")
	b := New(client, time.Second)

	boom := errors.New("boom")
	err := b.WithIdentity(context.Background(), "user-token", func(ctx context.Context, c *webexapi.Client) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if got := client.Token(); got != "bot-token" {
		t.Errorf("token after failed session = %q, want bot-token", got)
	}

	// The slot must be free again.
	err = b.WithIdentity(context.Background(), "other-token", func(ctx context.Context, c *webexapi.Client) error {
		return nil
	})
	if err != nil {
		t.Errorf("slot not released after error: %v", err)
	}
}

// No two sessions may overlap: each holder sees only its own token, and the
// active-session count never exceeds one.
func TestWithIdentitySerializes(t *testing.T) {
	client := webexapi.NewClient("http://example.invalid", "bot-token")
	b := New(client, 0)

	const n = 16
	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			token := "token-" + string(rune('a'+i))
			errs[i] = b.WithIdentity(context.Background(), token, func(ctx context.Context, c *webexapi.Client) error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				if got := c.Token(); got != token {
					t.Errorf("session %d saw token %q, want %q", i, got, token)
				}
				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("session %d: %v", i, err)
		}
	}
	if maxActive != 1 {
		t.Errorf("max concurrent sessions = %d, want 1", maxActive)
	}
	if got := client.Token(); got != "bot-token" {
		t.Errorf("token after all sessions = %q, want bot-token", got)
	}
}

func TestWithIdentityAcquireTimeout(t *testing.T) {
	client := webexapi.NewClient("http://example.invalid", "bot-token")
	b := New(client, 20*time.Millisecond)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.WithIdentity(context.Background(), "holder", func(ctx context.Context, c *webexapi.Client) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	err := b.WithIdentity(context.Background(), "waiter", func(ctx context.Context, c *webexapi.Client) error {
		return nil
	})
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("err = %v, want ErrLockTimeout", err)
	}
}

// Caller cancellation is reported as the context error, not as a lock timeout.
func TestWithIdentityCallerCancelled(t *testing.T) {
	client := webexapi.NewClient("http://example.invalid", "bot-token")
	b := New(client, time.Minute)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.WithIdentity(context.Background(), "holder", func(ctx context.Context, c *webexapi.Client) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := b.WithIdentity(ctx, "waiter", func(ctx context.Context, c *webexapi.Client) error {
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
