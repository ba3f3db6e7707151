package dispose

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispose_CloseRunsHandlersInOrder(t *testing.T) {
	d := &Dispose{}
	var order []int
	d.SetCtx(context.Background(), func() error {
		order = append(order, 0)
		return nil
	})
	d.AddCleanHandler(func() error {
		order = append(order, 1)
		return nil
	})

	result := d.Close()
	assert.False(t, result.HasErrors())
	assert.Equal(t, []int{0, 1}, order)
	assert.True(t, d.IsClosed())
	assert.Error(t, d.Ctx().Err(), "ctx should be cancelled after Close")
}

func TestDispose_CloseIsIdempotent(t *testing.T) {
	d := &Dispose{}
	var calls atomic.Int32
	d.SetCtx(context.Background(), func() error {
		calls.Add(1)
		return errors.New("boom")
	})

	first := d.Close()
	second := d.Close()
	require.True(t, first.HasErrors())
	assert.Equal(t, first.Errors, second.Errors)
	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorContains(t, d.Dispose(), "boom")
}

func TestDispose_ParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	r := NewResourceBase("port")
	done := make(chan struct{})
	r.AddCleanHandler(func() error {
		close(done)
		return nil
	})
	r.Initialize(parent)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup not triggered by parent cancellation")
	}
	assert.Eventually(t, r.IsClosed, time.Second, 10*time.Millisecond)
	assert.Equal(t, "port", r.GetName())
}

func TestDispose_SetCtxOnce(t *testing.T) {
	d := &Dispose{}
	d.SetCtx(context.Background(), nil)
	ctx := d.Ctx()
	d.SetCtx(context.Background(), nil)
	assert.Equal(t, ctx, d.Ctx())
	d.Close()
}

func TestDisposeResult_Err(t *testing.T) {
	assert.NoError(t, (&DisposeResult{}).Err())

	cause := errors.New("close port")
	r := &DisposeResult{Errors: []*DisposeError{{HandlerIndex: 2, ResourceName: "relay", Err: cause}}}
	assert.ErrorIs(t, r.Err(), cause)
	assert.Contains(t, r.Err().Error(), "relay")
}
