package capture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignal_FanOutAndCancel(t *testing.T) {
	s := NewSignal[int](2)
	a, cancelA := s.Subscribe()
	b, cancelB := s.Subscribe()
	defer cancelB()

	s.Emit(1)
	require.Equal(t, 1, <-a)
	require.Equal(t, 1, <-b)

	cancelA()
	cancelA()
	_, open := <-a
	require.False(t, open)

	s.Emit(2)
	require.Equal(t, 2, <-b)
}

func TestSignal_EmitDoesNotBlockOnFullSubscriber(t *testing.T) {
	s := NewSignal[int](1)
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Emit(1)
	s.Emit(2)
	require.Equal(t, 1, <-ch)
	require.Len(t, ch, 0)
}
