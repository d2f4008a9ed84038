/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gracefulshutdown ties the lifetime of a test run to SIGINT and
// SIGTERM: the run context is cancelled on signal and the process only exits
// once every registered goroutine, VM teardown included, has returned.
package gracefulshutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ExitCodeInterrupted is the exit status used when a signal ends the run.
const ExitCodeInterrupted = 130

// GracefulShutdown holds the run context and the goroutines it must wait for.
type GracefulShutdown struct {
	ctx    context.Context
	cancel context.CancelFunc
	name   string

	once      sync.Once
	readyOnce sync.Once
	wg        *sync.WaitGroup

	// ready is closed by Ready, once every WaitGroup.Add has happened.
	ready chan struct{}

	exitFunc func(int)
}

// NewWithExit is New with an injectable exit function.
func NewWithExit(name string, exitFunc func(int)) *GracefulShutdown {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)

	gs := &GracefulShutdown{
		ctx:      ctx,
		cancel:   cancel,
		name:     name,
		wg:       &sync.WaitGroup{},
		ready:    make(chan struct{}),
		exitFunc: exitFunc,
	}

	// A signal (or an external cancel) always ends in Shutdown, even when
	// Ready was never called.
	go func() {
		select {
		case <-gs.ready:
			<-ctx.Done()
		case <-ctx.Done():
			slog.Warn("run context cancelled before Ready was called", "name", name)
		}
		gs.Shutdown(ExitCodeInterrupted)
	}()

	return gs
}

// New returns a GracefulShutdown whose context is cancelled by SIGTERM or
// SIGINT and which exits the process through os.Exit.
func New(name string) *GracefulShutdown {
	return NewWithExit(name, os.Exit)
}

// Shutdown cancels the context, waits for the wait group and exits with
// exitCode. Only the first call has any effect.
func (s *GracefulShutdown) Shutdown(exitCode int) {
	s.once.Do(func() {
		slog.Debug("shutting down", "name", s.name, "exitCode", exitCode)
		s.cancel()
		s.wg.Wait()
		s.exitFunc(exitCode)
	})
}

// Context returns the run context.
func (s *GracefulShutdown) Context() context.Context {
	return s.ctx
}

// CancelFunc returns the function cancelling the run context.
func (s *GracefulShutdown) CancelFunc() context.CancelFunc {
	return s.cancel
}

// WaitGroup returns the wait group Shutdown waits on.
func (s *GracefulShutdown) WaitGroup() *sync.WaitGroup {
	return s.wg
}

// Ready signals that every WaitGroup.Add call has been made. It must be
// called before the context can be cancelled, otherwise Shutdown may race
// with Add. Calling it more than once is safe.
func (s *GracefulShutdown) Ready() {
	s.readyOnce.Do(func() {
		close(s.ready)
	})
}
