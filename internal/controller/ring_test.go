package controller

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputRingTail(t *testing.T) {
	r := newOutputRing(5)

	assert.Nil(t, r.Tail(10), "empty ring yields nothing")

	r.Append("one")
	r.Append("two")
	r.Append("three")

	assert.Equal(t, []string{"two", "three"}, r.Tail(2))
	assert.Equal(t, []string{"one", "two", "three"}, r.Tail(10), "tail is capped at the lines held")
	assert.Nil(t, r.Tail(0))
}

func TestOutputRingEviction(t *testing.T) {
	r := newOutputRing(3)

	for i := 1; i <= 7; i++ {
		r.Append(fmt.Sprintf("line %d", i))
	}

	assert.Equal(t, []string{"line 5", "line 6", "line 7"}, r.Tail(10),
		"oldest lines are evicted once full")
}

func TestOutputRingCollect(t *testing.T) {
	r := newOutputRing(10)
	r.collect(strings.NewReader("alpha\nbeta\ngamma\n"))

	require.Equal(t, []string{"alpha", "beta", "gamma"}, r.Tail(10))
}
