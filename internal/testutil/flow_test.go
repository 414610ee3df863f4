package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDGenerator(t *testing.T) {
	g := NewSequentialIDGenerator("note")

	assert.Equal(t, "note-1", g.Generate())
	assert.Equal(t, "note-2", g.Generate())
}

func TestSequentialIDGenerator_DefaultPrefix(t *testing.T) {
	g := NewSequentialIDGenerator("")

	assert.Equal(t, "n-1", g.Generate())
}
