package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orvnode/orv/libs/log"
)

func TestAddListenerForEventFireOnce(t *testing.T) {
	evsw := NewEventSwitch(log.NewNopLogger())

	messages := make(chan EventData, 1)
	require.NoError(t, evsw.AddListenerForEvent("listener", "event", func(data EventData) error {
		messages <- data
		return nil
	}))
	require.True(t, evsw.HasListeners("event"))
	require.False(t, evsw.HasListeners("other"))

	evsw.FireEvent("event", "data")
	require.Equal(t, "data", <-messages)
}

func TestRemoveListener(t *testing.T) {
	evsw := NewEventSwitch(log.NewNopLogger())

	var calls int
	cb := func(EventData) error {
		calls++
		return nil
	}
	require.NoError(t, evsw.AddListenerForEvent("a", "event1", cb))
	require.NoError(t, evsw.AddListenerForEvent("a", "event2", cb))
	require.NoError(t, evsw.AddListenerForEvent("b", "event1", cb))

	evsw.FireEvent("event1", nil)
	require.Equal(t, 2, calls)

	evsw.RemoveListener("a")
	evsw.FireEvent("event1", nil)
	evsw.FireEvent("event2", nil)
	require.Equal(t, 3, calls)
}

func TestFailingListenerDoesNotStopOthers(t *testing.T) {
	evsw := NewEventSwitch(log.NewNopLogger())

	var delivered bool
	require.NoError(t, evsw.AddListenerForEvent("bad", "event", func(EventData) error {
		return errors.New("boom")
	}))
	require.NoError(t, evsw.AddListenerForEvent("good", "event", func(EventData) error {
		delivered = true
		return nil
	}))

	evsw.FireEvent("event", nil)
	require.True(t, delivered)
}
