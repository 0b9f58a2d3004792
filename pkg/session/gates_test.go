package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterFiresImmediatelyWhenAlreadySatisfied(t *testing.T) {
	g := newGateMap()
	fired := false
	g.register(5, 10, func() { fired = true })
	assert.True(t, fired)
	assert.Equal(t, 0, g.len())
}

func TestRegisterDefersUntilFireRange(t *testing.T) {
	g := newGateMap()
	var order []int
	g.register(3, 0, func() { order = append(order, 3) })
	g.register(1, 0, func() { order = append(order, 1) })
	g.register(2, 0, func() { order = append(order, 2) })
	assert.Equal(t, 3, g.len())

	g.fireRange(0, 2)
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 1, g.len())

	g.fireRange(2, 3)
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, 0, g.len())
}

func TestFireRangeIsExclusiveLowerBound(t *testing.T) {
	g := newGateMap()
	calls := 0
	g.register(5, 0, func() { calls++ })

	g.fireRange(5, 5) // hi <= lo: no-op
	assert.Equal(t, 0, calls)

	g.fireRange(4, 5) // (4,5] includes 5
	assert.Equal(t, 1, calls)
}

func TestMultipleCallbacksOnSameKeyAllFire(t *testing.T) {
	g := newGateMap()
	n := 0
	g.register(1, 0, func() { n++ })
	g.register(1, 0, func() { n++ })
	g.fireRange(0, 1)
	assert.Equal(t, 2, n)
}
