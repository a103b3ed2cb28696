package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_AdvanceAndSet(t *testing.T) {
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.FixedZone("CST", 8*3600))
	c := NewFake(start)

	assert.Equal(t, time.UTC, c.Now().Location())
	assert.True(t, c.Now().Equal(start))

	c.Advance(90 * time.Minute)
	assert.True(t, c.Now().Equal(start.Add(90*time.Minute)))

	later := start.Add(48 * time.Hour)
	c.Set(later)
	assert.True(t, c.Now().Equal(later))
}

func TestReal_IsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Real().Now().Location())
}
