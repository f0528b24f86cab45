// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func intPtr(v int) *int { return &v }

func TestNew(t *testing.T) {
	task := New("Uploading exhibit A")

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "Uploading exhibit A", task.Description)
	assert.Equal(t, StatusPending, task.Status)
	assert.NotEqual(t, task.ID, New("other").ID)
}

func TestStatus(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.True(t, StatusRunning.Valid())
	assert.False(t, Status("Queued").Valid())
}

func TestTaskSummary(t *testing.T) {
	task := Task{ID: "0123456789abcdef", Description: "Draft reply", Status: StatusRunning, Progress: intPtr(40)}
	assert.Equal(t, "[01234567] Draft reply - running 40%", task.Summary())

	task.Status = StatusError
	task.Error = "quota exceeded"
	assert.Equal(t, "[01234567] Draft reply - error: quota exceeded", task.Summary())
}

func TestRegistry_AddDefaultsAndOrder(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(WithClock(clock.Now))

	first := reg.Add(Task{Description: "first"})
	second := reg.Add(New("second"))
	third := reg.Add(Task{ID: "fixed", Description: "third", Progress: intPtr(250)})

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{first, second, third}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.Equal(t, "fixed", third)
	assert.Equal(t, StatusPending, list[0].Status)
	assert.Equal(t, clock.Now(), list[0].CreatedAt)

	p, ok := list[2].ProgressValue()
	require.True(t, ok)
	assert.Equal(t, 100, p)
}

func TestRegistry_DuplicateIDReplacesInPlace(t *testing.T) {
	reg := NewRegistry()
	reg.Add(Task{ID: "a", Description: "one"})
	reg.Add(Task{ID: "b", Description: "two"})
	reg.Add(Task{ID: "a", Description: "replaced"})

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "replaced", list[0].Description)
}

func TestRegistry_UpdateMergesFields(t *testing.T) {
	reg := NewRegistry()
	id := reg.Add(New("Analyzing"))

	require.True(t, reg.Update(id, Patch{}.WithStatus(StatusRunning).WithProgress(55)))
	require.True(t, reg.Update(id, Patch{}.WithDescription("Analyzing clause 4")))

	task, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, task.Status)
	assert.Equal(t, "Analyzing clause 4", task.Description)
	p, _ := task.ProgressValue()
	assert.Equal(t, 55, p)

	require.True(t, reg.Update(id, Patch{}.WithProgress(-3)))
	task, _ = reg.Get(id)
	p, _ = task.ProgressValue()
	assert.Equal(t, 0, p)
}

func TestRegistry_ReturnedTasksAreCopies(t *testing.T) {
	reg := NewRegistry()
	id := reg.Add(Task{Description: "x", Progress: intPtr(10)})

	task, _ := reg.Get(id)
	*task.Progress = 99
	task.Description = "mutated"

	again, _ := reg.Get(id)
	p, _ := again.ProgressValue()
	assert.Equal(t, 10, p)
	assert.Equal(t, "x", again.Description)
}

func TestRegistry_LifecycleExpiry(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(WithClock(clock.Now))

	id := reg.Add(New("Generate draft"))
	clock.Advance(time.Minute)
	reg.Update(id, Patch{}.WithStatus(StatusSuccess))

	clock.Advance(4 * time.Second)
	assert.Empty(t, reg.SweepExpired())
	_, ok := reg.Get(id)
	assert.True(t, ok, "task must survive inside the expiry window")

	clock.Advance(time.Second)
	assert.Equal(t, []string{id}, reg.SweepExpired())
	_, ok = reg.Get(id)
	assert.False(t, ok)
}

func TestRegistry_ActiveTasksNeverSwept(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(WithClock(clock.Now))

	pending := reg.Add(New("waiting"))
	running := reg.Add(Task{Description: "working", Status: StatusRunning})
	failed := reg.Add(Task{Description: "failed", Status: StatusError})

	clock.Advance(24 * time.Hour)
	assert.Equal(t, []string{failed}, reg.SweepExpired())

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, pending, list[0].ID)
	assert.Equal(t, running, list[1].ID)
}

func TestRegistry_LeavingTerminalStatusResetsExpiry(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(WithClock(clock.Now), WithExpiry(time.Second))

	id := reg.Add(New("retryable"))
	reg.Update(id, Patch{}.WithStatus(StatusError))
	reg.Update(id, Patch{}.WithStatus(StatusRunning))

	clock.Advance(time.Hour)
	assert.Empty(t, reg.SweepExpired())

	task, _ := reg.Get(id)
	assert.True(t, task.FinishedAt.IsZero())
}

func TestRegistry_IdempotentRemoval(t *testing.T) {
	reg := NewRegistry()
	id := reg.Add(New("one"))
	other := reg.Add(New("two"))

	assert.True(t, reg.Remove(id))
	before := reg.List()

	assert.NotPanics(t, func() {
		assert.False(t, reg.Remove(id))
		assert.False(t, reg.Update(id, Patch{}.WithStatus(StatusSuccess)))
	})
	assert.Equal(t, before, reg.List())
	assert.Equal(t, other, reg.List()[0].ID)
}

func TestRegistry_ClearAndSummary(t *testing.T) {
	reg := NewRegistry()
	reg.Add(New("a"))
	reg.Add(Task{Description: "b", Status: StatusRunning})
	reg.Add(Task{Description: "c", Status: StatusRunning})
	reg.Add(Task{Description: "d", Status: StatusSuccess})
	reg.Add(Task{Description: "e", Status: StatusError})

	c := reg.Summary()
	assert.Equal(t, Counts{Pending: 1, Running: 2, Success: 1, Error: 1}, c)
	assert.Equal(t, 3, c.Active())
	assert.Equal(t, "Running: 2 | Pending: 1 | Done: 1 | Failed: 1", c.String())

	reg.Clear()
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_Subscribe(t *testing.T) {
	reg := NewRegistry()
	var seen [][]Task
	unsubscribe := reg.Subscribe(func(list []Task) {
		seen = append(seen, list)
	})

	id := reg.Add(New("watch me"))
	reg.Update(id, Patch{}.WithStatus(StatusRunning))
	reg.Update("missing", Patch{}.WithStatus(StatusRunning))
	reg.Remove(id)

	require.Len(t, seen, 3)
	assert.Equal(t, StatusPending, seen[0][0].Status)
	assert.Equal(t, StatusRunning, seen[1][0].Status)
	assert.Empty(t, seen[2])

	unsubscribe()
	unsubscribe()
	reg.Add(New("unseen"))
	assert.Len(t, seen, 3)
}

func TestRegistry_SubscriberEndsOnLatestSnapshot(t *testing.T) {
	for iter := 0; iter < 200; iter++ {
		reg := NewRegistry()
		var (
			mu   sync.Mutex
			last []Task
		)
		reg.Subscribe(func(list []Task) {
			runtime.Gosched()
			mu.Lock()
			last = list
			mu.Unlock()
		})

		ids := make([]string, 8)
		for i := range ids {
			ids[i] = reg.Add(New("upload"))
		}
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for pct := 0; pct <= 100; pct += 25 {
					reg.Update(id, Patch{}.WithProgress(pct))
				}
				reg.Update(id, Patch{}.WithStatus(StatusSuccess))
			}()
		}
		wg.Wait()

		mu.Lock()
		got := last
		mu.Unlock()
		require.Equal(t, reg.List(), got, "iteration %d", iter)
	}
}

func TestRegistry_RunSweeper(t *testing.T) {
	reg := NewRegistry(WithExpiry(time.Millisecond))
	reg.Add(Task{Description: "done", Status: StatusSuccess})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- reg.RunSweeper(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestRegistry_ConcurrentMutations(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := reg.Add(New("parallel"))
			reg.Update(id, Patch{}.WithStatus(StatusRunning).WithProgress(50))
			reg.Update(id, Patch{}.WithStatus(StatusSuccess))
			_ = reg.List()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, reg.Summary().Success)
}

// =============================================================================
// RUNNER
// =============================================================================

func TestRunner_Lifecycle(t *testing.T) {
	reg := NewRegistry()
	runner := NewRunner(reg, 2, 0)

	release := make(chan struct{})
	id := runner.Go(context.Background(), "Upload brief.pdf", func(ctx context.Context, rep *Reporter) error {
		rep.Progress(30)
		<-release
		return nil
	})

	require.Eventually(t, func() bool {
		task, _ := reg.Get(id)
		p, _ := task.ProgressValue()
		return task.Status == StatusRunning && p == 30
	}, time.Second, time.Millisecond)

	close(release)
	runner.Wait()

	task, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, task.Status)
	p, _ := task.ProgressValue()
	assert.Equal(t, 100, p)
}

func TestRunner_FailureAndPanic(t *testing.T) {
	reg := NewRegistry()
	runner := NewRunner(reg, 2, 0)

	failed := runner.Go(context.Background(), "bad", func(context.Context, *Reporter) error {
		return errors.New("provider refused")
	})
	panicked := runner.Go(context.Background(), "worse", func(context.Context, *Reporter) error {
		panic("boom")
	})
	runner.Wait()

	task, _ := reg.Get(failed)
	assert.Equal(t, StatusError, task.Status)
	assert.Equal(t, "provider refused", task.Error)

	task, _ = reg.Get(panicked)
	assert.Equal(t, StatusError, task.Status)
	assert.Contains(t, task.Error, "boom")
}

func TestRunner_BoundsConcurrency(t *testing.T) {
	reg := NewRegistry()
	runner := NewRunner(reg, 2, 0)

	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	for i := 0; i < 8; i++ {
		runner.Go(context.Background(), "job", func(ctx context.Context, rep *Reporter) error {
			mu.Lock()
			current++
			peak = max(peak, current)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			current--
			mu.Unlock()
			return nil
		})
	}
	runner.Wait()

	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, 8, reg.Summary().Success)
}

func TestRunner_TimeoutAndCancel(t *testing.T) {
	reg := NewRegistry()
	runner := NewRunner(reg, 4, 20*time.Millisecond)

	slow := runner.Go(context.Background(), "slow", func(ctx context.Context, rep *Reporter) error {
		<-ctx.Done()
		return ctx.Err()
	})
	runner.Wait()

	task, _ := reg.Get(slow)
	assert.Equal(t, StatusError, task.Status)
	assert.Contains(t, task.Error, "timeout")

	runner = NewRunner(reg, 4, 0)
	started := make(chan struct{})
	canceled := runner.Go(context.Background(), "cancel me", func(ctx context.Context, rep *Reporter) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	assert.True(t, runner.Cancel(canceled))
	runner.Wait()
	assert.False(t, runner.Cancel(canceled))

	task, _ = reg.Get(canceled)
	assert.Equal(t, StatusError, task.Status)
}

func TestRunner_ClosedRejectsJobs(t *testing.T) {
	reg := NewRegistry()
	runner := NewRunner(reg, 1, 0)
	runner.Close()

	id := runner.Go(context.Background(), "late", func(context.Context, *Reporter) error {
		t.Fatal("job must not run")
		return nil
	})

	task, _ := reg.Get(id)
	assert.Equal(t, StatusError, task.Status)
	assert.Equal(t, ErrRunnerClosed.Error(), task.Error)
}

func TestRunner_NoJobStartsAfterClose(t *testing.T) {
	for iter := 0; iter < 100; iter++ {
		runner := NewRunner(NewRegistry(), 4, 0)
		var closedDone, lateStart atomic.Bool

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runner.Go(context.Background(), "racer", func(context.Context, *Reporter) error {
					if closedDone.Load() {
						lateStart.Store(true)
					}
					return nil
				})
			}()
		}
		runner.Close()
		closedDone.Store(true)
		wg.Wait()
		runner.Wait()

		require.False(t, lateStart.Load(), "iteration %d", iter)
	}
}
