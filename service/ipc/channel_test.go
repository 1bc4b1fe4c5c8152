package ipc

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeChannelRoundTrip(t *testing.T) {
	parentR, childW := io.Pipe()
	childR, parentW := io.Pipe()

	parent := NewPipeChannel(parentR, parentW, nil)
	child := NewPipeChannel(childR, childW, nil)

	require.NoError(t, parent.Send(&Message{Kind: KindRun, Run: &RunRequest{ID: "m1", Checks: true}}))
	m, err := child.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, KindRun, m.Kind)
	require.NotNil(t, m.Run)
	assert.Equal(t, "m1", m.Run.ID)
	assert.True(t, m.Run.Checks)

	require.NoError(t, child.Send(&Message{Kind: KindAck}))
	m, err = parent.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, KindAck, m.Kind)
}

func TestPipeChannelTimeout(t *testing.T) {
	r, _ := io.Pipe()
	ch := NewPipeChannel(r, io.Discard, nil)
	_, err := ch.Receive(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPipeChannelPeerGone(t *testing.T) {
	r, w := io.Pipe()
	ch := NewPipeChannel(r, io.Discard, nil)
	require.NoError(t, w.Close())
	_, err := ch.Receive(time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryPair(t *testing.T) {
	a, b := NewMemoryPair()
	require.NoError(t, a.Send(&Message{Kind: KindPause}))
	m, err := b.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, KindPause, m.Kind)

	_, err = a.Receive(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, b.Send(&Message{Kind: KindPaused}))
	require.NoError(t, b.Close())
	// messages sent before the close are still delivered
	m, err = a.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, KindPaused, m.Kind)
	_, err = a.Receive(time.Second)
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, b.Send(&Message{Kind: KindAck}), ErrClosed)
}
