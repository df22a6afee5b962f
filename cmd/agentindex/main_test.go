package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	r, err := parseRange("5:40")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), r.From)
	assert.Equal(t, uint64(40), r.To)

	for _, bad := range []string{"", "5", "a:3", "3:b", "9:2", "-1:4"} {
		_, err := parseRange(bad)
		assert.Error(t, err, bad)
	}
}

func TestSyncWindow(t *testing.T) {
	w := syncWindow{blocksPerDay: 100}
	assert.Equal(t, uint64(400), w.start(500), "first sync looks back one day")

	w.advance(500)
	assert.Equal(t, uint64(501), w.start(800))

	fresh := syncWindow{blocksPerDay: 100}
	assert.Equal(t, uint64(0), fresh.start(40), "lookback floors at genesis")

	defaults := syncWindow{}
	assert.Equal(t, uint64(50000-43200), defaults.start(50000))
}
