//go:build unit

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

package gracefulshutdown_test

import (
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/alexandremahdhaoui/mde-e2e/internal/util/gracefulshutdown"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	gs := gracefulshutdown.NewWithExit("mde-e2e-runner", func(int) {})
	require.NotNil(t, gs)

	assert.NotNil(t, gs.Context())
	assert.NoError(t, gs.Context().Err())
	assert.NotNil(t, gs.CancelFunc())
	assert.NotNil(t, gs.WaitGroup())
}

func TestGracefulShutdown_Shutdown(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		workers  int
	}{
		{name: "all tests passed", exitCode: 0},
		{name: "install failure", exitCode: 1},
		{name: "waits for in-flight teardowns", exitCode: 0, workers: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got int
			exited := false
			gs := gracefulshutdown.NewWithExit("test", func(code int) {
				got = code
				exited = true
			})

			var finished atomic.Int32
			for range tt.workers {
				gs.WaitGroup().Add(1)
				go func() {
					defer gs.WaitGroup().Done()
					time.Sleep(10 * time.Millisecond)
					finished.Add(1)
				}()
			}
			gs.Ready()

			gs.Shutdown(tt.exitCode)

			assert.True(t, exited)
			assert.Equal(t, tt.exitCode, got)
			assert.Equal(t, int32(tt.workers), finished.Load())
			assert.Error(t, gs.Context().Err())
		})
	}
}

func TestGracefulShutdown_CancelExitsInterrupted(t *testing.T) {
	codes := make(chan int, 1)
	gs := gracefulshutdown.NewWithExit("test", func(code int) { codes <- code })
	gs.Ready()

	gs.CancelFunc()()

	select {
	case code := <-codes:
		assert.Equal(t, gracefulshutdown.ExitCodeInterrupted, code)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not run after cancellation")
	}
}

func TestGracefulShutdown_SignalExitsInterrupted(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGTERM, syscall.SIGINT} {
		t.Run(sig.String(), func(t *testing.T) {
			codes := make(chan int, 1)
			gs := gracefulshutdown.NewWithExit("test", func(code int) { codes <- code })

			var tornDown atomic.Bool
			gs.WaitGroup().Add(1)
			go func() {
				defer gs.WaitGroup().Done()
				<-gs.Context().Done()
				time.Sleep(10 * time.Millisecond)
				tornDown.Store(true)
			}()
			gs.Ready()

			require.NoError(t, syscall.Kill(syscall.Getpid(), sig))

			select {
			case code := <-codes:
				assert.Equal(t, gracefulshutdown.ExitCodeInterrupted, code)
				assert.True(t, tornDown.Load())
			case <-time.After(5 * time.Second):
				t.Fatalf("shutdown did not run after %s", sig)
			}
		})
	}
}

func TestGracefulShutdown_ShutdownIdempotency(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	gs := gracefulshutdown.NewWithExit("test", func(int) {
		mu.Lock()
		defer mu.Unlock()
		calls++
	})

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gs.Shutdown(i)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}
