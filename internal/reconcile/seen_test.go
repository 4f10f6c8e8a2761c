// ABOUTME: Tests for the seen-id cache
// ABOUTME: Verifies duplicate detection, TTL expiry, and size-bounded eviction

package reconcile

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeenCache_CheckAndMark(t *testing.T) {
	c := newSeenCache(time.Minute, 100)
	defer c.close()

	assert.False(t, c.checkAndMark("m1"))
	assert.True(t, c.checkAndMark("m1"))
	assert.False(t, c.checkAndMark("m2"))
}

func TestSeenCache_MarkWithoutCheck(t *testing.T) {
	c := newSeenCache(time.Minute, 100)
	defer c.close()

	c.mark("m1")
	assert.True(t, c.checkAndMark("m1"))
}

func TestSeenCache_TTLExpiry(t *testing.T) {
	c := newSeenCache(20*time.Millisecond, 100)
	defer c.close()

	assert.False(t, c.checkAndMark("m1"))
	time.Sleep(40 * time.Millisecond)
	assert.False(t, c.checkAndMark("m1"))
}

func TestSeenCache_SizeBoundedEviction(t *testing.T) {
	c := newSeenCache(time.Minute, 3)
	defer c.close()

	for i := 0; i < 4; i++ {
		c.mark(fmt.Sprintf("m%d", i))
	}

	// The oldest id was evicted to make room; newer ids survive.
	assert.False(t, c.checkAndMark("m0"))
	assert.True(t, c.checkAndMark("m3"))
}

func TestSeenCache_CloseIsIdempotent(t *testing.T) {
	c := newSeenCache(time.Minute, 10)
	c.close()
	c.close()
}
