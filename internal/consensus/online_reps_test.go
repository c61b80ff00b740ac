package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orvnode/orv/types"
)

func TestOnlineReps(t *testing.T) {
	keys, weights := newReps(600, 300, 0)
	now := time.Now()
	o := NewOnlineReps(weights, time.Minute, amount(500), 50, NopMetrics())
	o.now = func() time.Time { return now }

	// below the minimum the minimum counts
	assert.Equal(t, amount(250), o.Delta())

	o.Observe(keys[0].Account())
	o.Observe(keys[2].Account())
	assert.Equal(t, amount(600), o.Online())
	assert.Equal(t, []types.Account{keys[0].Account()}, o.List(), "reps without weight are ignored")

	now = now.Add(30 * time.Second)
	o.Observe(keys[1].Account())
	assert.Equal(t, amount(900), o.Online())
	assert.Equal(t, amount(450), o.Delta())
	require.Equal(t, []types.Account{keys[0].Account(), keys[1].Account()}, o.List())

	now = now.Add(45 * time.Second)
	assert.Equal(t, amount(300), o.Online())
	assert.Equal(t, amount(250), o.Delta())

	o.Clear()
	assert.True(t, o.Online().IsZero())
}
