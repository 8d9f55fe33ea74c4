package revert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailRunsCleanupsInLIFOOrder(t *testing.T) {
	var order []int

	r := New()
	r.Add(func() { order = append(order, 1) })
	r.Add(func() { order = append(order, 2) })
	r.Add(func() { order = append(order, 3) })

	r.Fail()

	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestSuccessDisarmsFail(t *testing.T) {
	ran := false

	r := New()
	r.Add(func() { ran = true })
	r.Success()
	r.Fail()

	assert.False(t, ran, "Fail after Success must not run pushed cleanups")
}

func TestFailOnNilReverterIsSafe(t *testing.T) {
	var r *Reverter
	assert.NotPanics(t, func() { r.Fail() })
}

func TestCloneCopiesStackIndependently(t *testing.T) {
	var ranOriginal, ranClone bool

	r := New()
	r.Add(func() { ranOriginal = true })

	clone := r.Clone()
	clone.Add(func() { ranClone = true })

	r.Success()
	clone.Fail()

	assert.False(t, ranOriginal, "the original reverter's cleanup must not run after Success")
	assert.True(t, ranClone, "the clone keeps its own independent cleanup stack")
}
