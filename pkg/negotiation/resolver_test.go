package negotiation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanServeFromCachePeriodicityOnly(t *testing.T) {
	delta := ConditionDelta{Periodicity: intPtr(7)}
	params := OfferParams{Plan: 10, Periodicity: 7, EntryOffsetDays: 0}
	assert.True(t, canServeFromCache(delta, params))

	params.Periodicity = 30
	delta.Periodicity = intPtr(30)
	assert.True(t, canServeFromCache(delta, params))
}

func TestCanServeFromCacheNeverWithEntryOffset(t *testing.T) {
	delta := ConditionDelta{Periodicity: intPtr(7)}
	params := OfferParams{Plan: 10, Periodicity: 7, EntryOffsetDays: 5}
	assert.False(t, canServeFromCache(delta, params), "a moved entry changes every amount")
}

func TestCanServeFromCacheNeverWithPlanChange(t *testing.T) {
	delta := ConditionDelta{Periodicity: intPtr(7), Plan: intPtr(12)}
	params := OfferParams{Plan: 12, Periodicity: 7, EntryOffsetDays: 0}
	assert.False(t, canServeFromCache(delta, params))
}

func TestCanServeFromCacheNeverWithEntryDelta(t *testing.T) {
	delta := ConditionDelta{Periodicity: intPtr(7), EntryOffsetDays: intPtr(0)}
	params := OfferParams{Plan: 10, Periodicity: 7, EntryOffsetDays: 0}
	assert.False(t, canServeFromCache(delta, params), "an explicit entry request always refetches")
}

func TestCanServeFromCacheOnlyCachedCadences(t *testing.T) {
	delta := ConditionDelta{Periodicity: intPtr(15)}
	params := OfferParams{Plan: 10, Periodicity: 15, EntryOffsetDays: 0}
	assert.False(t, canServeFromCache(delta, params), "only weekly and monthly sets are cached")

	delta = ConditionDelta{Periodicity: intPtr(1)}
	params.Periodicity = 1
	assert.False(t, canServeFromCache(delta, params))
}
