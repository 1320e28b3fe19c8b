package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskAwaitResolved(t *testing.T) {
	tk := Spawn(context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	v, err := tk.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, tk.Ready())
}

func TestTaskAwaitRejected(t *testing.T) {
	wantErr := errors.New("boom")
	tk := Spawn(context.Background(), func(ctx context.Context) (int, error) {
		return 0, wantErr
	})
	v, err := tk.Await(context.Background())
	assert.Equal(t, 0, v)
	assert.ErrorIs(t, err, wantErr)
}

func TestTaskAwaitContextCancel(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	tk := Spawn(context.Background(), func(ctx context.Context) (int, error) {
		<-block
		return 1, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tk.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTaskPanicBecomesError(t *testing.T) {
	tk := Spawn(context.Background(), func(ctx context.Context) (int, error) {
		panic("oh no")
	})
	_, err := tk.Await(context.Background())
	require.Error(t, err)
}

func TestTaskAwaitAsyncSymmetricTransfer(t *testing.T) {
	tk := Spawn(context.Background(), func(ctx context.Context) (string, error) {
		return "done", nil
	})
	var wg sync.WaitGroup
	wg.Add(1)
	tk.AwaitAsync(func() { wg.Done() })
	wg.Wait()
	v, err := tk.Result()
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestTaskAwaitAsyncAlreadyDone(t *testing.T) {
	tk := Spawn(context.Background(), func(ctx context.Context) (int, error) {
		return 7, nil
	})
	_, err := tk.Await(context.Background())
	require.NoError(t, err)

	called := make(chan struct{})
	tk.AwaitAsync(func() { close(called) })
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("resume not invoked for already-settled task")
	}
}

func TestTaskDetach(t *testing.T) {
	tk := Spawn(context.Background(), func(ctx context.Context) (int, error) {
		return 1, nil
	})
	assert.False(t, tk.Detached())
	tk.Detach()
	assert.True(t, tk.Detached())
}
