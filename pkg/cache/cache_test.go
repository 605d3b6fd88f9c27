package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestARPUpsertAndLookup(t *testing.T) {
	a := NewARP()
	now := time.Unix(1000, 0)
	a.Upsert("10.0.0.3", "CC:AF:00:00:00:02", "alpha", 2, 600*time.Second, now)

	e, ok := a.Lookup("10.0.0.3", now)
	require.True(t, ok)
	assert.Equal(t, "CC:AF:00:00:00:02", e.MAC)
	assert.Equal(t, "alpha", e.Hostname)
	assert.Equal(t, uint32(2), e.NodeID)
	assert.Equal(t, now.Add(600*time.Second), e.ExpiresAt)
}

func TestARPExpiresAfterTTL(t *testing.T) {
	a := NewARP()
	now := time.Unix(1000, 0)
	a.Upsert("10.0.0.3", "CC:AF:00:00:00:02", "alpha", 2, 10*time.Second, now)

	_, ok := a.Lookup("10.0.0.3", now.Add(11*time.Second))
	assert.False(t, ok)
}

func TestARPSweepRemovesExpiredOnly(t *testing.T) {
	a := NewARP()
	now := time.Unix(1000, 0)
	a.Upsert("10.0.0.3", "mac1", "alpha", 2, 10*time.Second, now)
	a.Upsert("10.0.0.4", "mac2", "beta", 3, 1000*time.Second, now)

	removed := a.Sweep(now.Add(20 * time.Second))
	assert.Equal(t, 1, removed)

	snap := a.Snapshot()
	assert.Len(t, snap, 1)
	_, stillThere := snap["10.0.0.4"]
	assert.True(t, stillThere)
}

func TestDNSNegativeAnswersAreNeverUpserted(t *testing.T) {
	d := NewDNS()
	now := time.Unix(1000, 0)
	// Caller contract: negative answers (empty ip) are never passed to
	// Upsert (spec §4.2). Verify a hostname with no Upsert call simply
	// misses rather than resolving to "".
	_, ok := d.Lookup("ghost", now)
	assert.False(t, ok)
	_ = d // keep d referenced if future cases are added
}

func TestDNSFlush(t *testing.T) {
	d := NewDNS()
	now := time.Unix(1000, 0)
	d.Upsert("alpha", "10.0.0.3", 300*time.Second, now)
	d.Flush()
	_, ok := d.Lookup("alpha", now)
	assert.False(t, ok)
}
