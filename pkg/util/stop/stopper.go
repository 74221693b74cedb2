// Copyright 2014 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package stop provides a Stopper that coordinates graceful shutdown of a
// tree of background goroutines: every long-running loop in the failure
// detector is started through a Stopper so that a single Stop(ctx) call
// drains them all instead of each caller inventing its own context/WaitGroup
// plumbing.
package stop

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/jscblack/oceanbase-dev/pkg/util/syncutil"
)

// ErrUnavailable is returned by RunAsyncTask when the Stopper is already
// quiescing or stopped.
var ErrUnavailable = errors.New("stopper unavailable; cannot run task")

// A Stopper tracks a set of goroutines and provides a mechanism to
// terminate them and wait for their completion.
type Stopper struct {
	mu struct {
		syncutil.Mutex
		quiescing bool
		stopped   bool
		numTasks  int
	}

	quiescer   chan struct{} // closed when quiescing begins
	stopped    chan struct{} // closed when all tasks have drained
	stoppedCls sync.Once
	onPanic    func(interface{})
}

// Option configures a Stopper at construction time.
type Option func(*Stopper)

// OnPanic sets a recovery handler invoked if a task started with
// RunAsyncTask panics. Without it, the panic propagates and crashes the
// process, matching Go's default behavior for un-recovered goroutine panics.
func OnPanic(f func(interface{})) Option {
	return func(s *Stopper) { s.onPanic = f }
}

// NewStopper returns an instance of Stopper.
func NewStopper(opts ...Option) *Stopper {
	s := &Stopper{
		quiescer: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunAsyncTask runs f in a new goroutine, tracked by the Stopper so that
// Stop waits for it to return. It fails with ErrUnavailable if the Stopper
// is already quiescing.
func (s *Stopper) RunAsyncTask(ctx context.Context, taskName string, f func(context.Context)) error {
	if !s.runPrelude() {
		return errors.Wrapf(ErrUnavailable, "%s", taskName)
	}
	go func() {
		defer s.runPostlude()
		defer s.recover()
		f(ctx)
	}()
	return nil
}

// RunTask runs f synchronously, but only if the Stopper has not begun
// quiescing; it counts f's duration against Stop's drain so a synchronous
// caller behaves consistently with RunAsyncTask callers.
func (s *Stopper) RunTask(ctx context.Context, taskName string, f func(context.Context)) error {
	if !s.runPrelude() {
		return errors.Wrapf(ErrUnavailable, "%s", taskName)
	}
	defer s.runPostlude()
	defer s.recover()
	f(ctx)
	return nil
}

func (s *Stopper) runPrelude() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.quiescing {
		return false
	}
	s.mu.numTasks++
	return true
}

func (s *Stopper) runPostlude() {
	s.mu.Lock()
	s.mu.numTasks--
	done := s.mu.quiescing && s.mu.numTasks == 0
	s.mu.Unlock()
	if done {
		s.closeStopped()
	}
}

func (s *Stopper) recover() {
	if r := recover(); r != nil {
		if s.onPanic != nil {
			s.onPanic(r)
			return
		}
		panic(r)
	}
}

func (s *Stopper) closeStopped() {
	s.stoppedCls.Do(func() { close(s.stopped) })
}

// ShouldQuiesce returns a channel that is closed when Quiesce or Stop is
// called, signaling long-running loops to return.
func (s *Stopper) ShouldQuiesce() <-chan struct{} {
	return s.quiescer
}

// IsStopped returns a channel that is closed once all tracked tasks have
// finished after Quiesce or Stop was called.
func (s *Stopper) IsStopped() <-chan struct{} {
	return s.stopped
}

// WithCancelOnQuiesce returns a child context that is canceled either when
// the passed context is canceled, or when the Stopper starts quiescing,
// whichever happens first.
func (s *Stopper) WithCancelOnQuiesce(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.ShouldQuiesce():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Quiesce moves the Stopper to the quiescing state, signaling all tasks via
// ShouldQuiesce, without waiting for them to drain. Callers that need to
// block until the tasks have returned should follow up with a receive from
// IsStopped, or call Stop which does both.
func (s *Stopper) Quiesce(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	alreadyQuiescing := s.mu.quiescing
	s.mu.quiescing = true
	noTasks := s.mu.numTasks == 0
	s.mu.Unlock()

	if !alreadyQuiescing {
		close(s.quiescer)
	}
	if noTasks {
		s.closeStopped()
	}
}

// Stop signals all tasks to quiesce, via ShouldQuiesce, and blocks until
// every task started with RunAsyncTask/RunTask has returned, or until ctx is
// canceled.
func (s *Stopper) Stop(ctx context.Context) {
	s.Quiesce(ctx)

	select {
	case <-s.stopped:
	case <-ctx.Done():
	}

	s.mu.Lock()
	s.mu.stopped = true
	s.mu.Unlock()
}

// NumTasks returns the number of tasks currently tracked by the Stopper, for
// use in tests and diagnostics.
func (s *Stopper) NumTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.numTasks
}

func (s *Stopper) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("stopper(quiescing=%v stopped=%v tasks=%d)", s.mu.quiescing, s.mu.stopped, s.mu.numTasks)
}
