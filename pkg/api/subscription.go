package api

import (
	"context"
	"errors"
	"sync"
)

// Subscription is a live stream of full snapshots owned by the caller.
//
// Only the newest snapshot is buffered: a consumer that falls behind skips
// intermediate snapshots. Updates is closed once the stream ends, either
// because Cancel was called or because the underlying listener failed, in
// which case Err reports the failure.
type Subscription[T any] struct {
	updates chan T
	cancel  context.CancelFunc
	done    chan struct{}

	mu       sync.Mutex
	canceled bool
	err      error
}

// watchFunc runs a listener that calls yield for each snapshot until ctx ends.
type watchFunc[T any] func(ctx context.Context, yield func(T)) error

func startSubscription[T any](ctx context.Context, watch watchFunc[T]) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		updates: make(chan T, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.updates)

		err := watch(ctx, s.publish)
		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()

	return s
}

func (s *Subscription[T]) publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return
	}
	select {
	case s.updates <- v:
	default:
		// Replace the stale snapshot the consumer has not read yet.
		select {
		case <-s.updates:
		default:
		}
		s.updates <- v
	}
}

// Updates delivers snapshots in the order the repository produced them.
func (s *Subscription[T]) Updates() <-chan T {
	return s.updates
}

// Err returns the error that ended the stream, if any.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the listener has released its resources.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Cancel stops delivery. No snapshot is delivered after Cancel returns.
// It is safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.mu.Lock()
	if !s.canceled {
		s.canceled = true
		select {
		case <-s.updates:
		default:
		}
	}
	s.mu.Unlock()
	s.cancel()
}

// First waits for the initial snapshot and cancels the subscription.
func (s *Subscription[T]) First(ctx context.Context) (T, error) {
	defer s.Cancel()
	var zero T
	select {
	case v, ok := <-s.updates:
		if !ok {
			if err := s.Err(); err != nil {
				return zero, err
			}
			return zero, context.Canceled
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
