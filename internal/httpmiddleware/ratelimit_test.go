package httpmiddleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterBurstAndRefill(t *testing.T) {
	l := NewIPRateLimiter(3, 60) // 3 burst, 1 token/second
	now := time.Now()

	for i := 0; i < 3; i++ {
		assert.True(t, l.allow("10.0.0.1", now), "request %d within burst", i)
	}
	assert.False(t, l.allow("10.0.0.1", now), "burst exhausted")

	// Other clients are unaffected.
	assert.True(t, l.allow("10.0.0.2", now))

	// One second refills one token.
	assert.True(t, l.allow("10.0.0.1", now.Add(time.Second)))
	assert.False(t, l.allow("10.0.0.1", now.Add(time.Second)))
}

func TestLimiterDefaultsBurst(t *testing.T) {
	l := NewIPRateLimiter(0, 5)
	now := time.Now()
	for i := 0; i < 5; i++ {
		assert.True(t, l.allow("c", now))
	}
	assert.False(t, l.allow("c", now))
}
