package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var parentAt = time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)

func TestDecodeEmbeddedStatuses_AlternateFieldSpellings(t *testing.T) {
	raw := []byte(`[
		{"name": "Aspirin", "taken": true, "taken_at": "2026-08-30T08:00:00Z"},
		{"medication": "Metformin", "status": "taken", "time": "2026-08-30T10:00:00Z"},
		{"med_name": "Lisinopril", "status": "missed", "timestamp": 1787436000}
	]`)

	entries, skipped := decodeEmbeddedStatuses(raw, parentAt, 0)
	require.Len(t, entries, 3)
	assert.Equal(t, 0, skipped)

	assert.Equal(t, "Aspirin", entries[0].ItemName)
	assert.True(t, entries[0].Taken)
	require.NotNil(t, entries[0].TakenAt)

	assert.Equal(t, "Metformin", entries[1].ItemName)
	assert.True(t, entries[1].Taken)

	assert.Equal(t, "Lisinopril", entries[2].ItemName)
	assert.False(t, entries[2].Taken)
	require.NotNil(t, entries[2].TakenAt)
}

func TestDecodeEmbeddedStatuses_MissingTimestampFallsBackToParent(t *testing.T) {
	raw := []byte(`[{"name": "Aspirin", "taken": true}]`)

	entries, skipped := decodeEmbeddedStatuses(raw, parentAt, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, 0, skipped)

	assert.Nil(t, entries[0].TakenAt)
	require.NotNil(t, entries[0].EffectiveAt)
	assert.True(t, entries[0].EffectiveAt.Equal(parentAt))
	require.NotNil(t, entries[0].EffectiveTime())
	assert.True(t, entries[0].EffectiveTime().Equal(parentAt))
}

func TestDecodeEmbeddedStatuses_MalformedEntriesSkippedIndividually(t *testing.T) {
	raw := []byte(`[
		{"taken": true},
		{"name": "Aspirin", "status": "maybe"},
		{"name": "Metformin", "taken": true}
	]`)

	entries, skipped := decodeEmbeddedStatuses(raw, parentAt, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, "Metformin", entries[0].ItemName)
}

func TestDecodeEmbeddedStatuses_UnparsableArray(t *testing.T) {
	entries, skipped := decodeEmbeddedStatuses([]byte(`{"not": "an array"}`), parentAt, 0)
	assert.Nil(t, entries)
	assert.Equal(t, 1, skipped)
}

func TestDecodeEmbeddedStatuses_SourceOrderContinuesFromStart(t *testing.T) {
	raw := []byte(`[
		{"name": "Aspirin", "taken": true},
		{"name": "Metformin", "taken": false}
	]`)

	entries, _ := decodeEmbeddedStatuses(raw, parentAt, 7)
	require.Len(t, entries, 2)
	assert.Equal(t, 7, entries[0].SourceOrder)
	assert.Equal(t, 8, entries[1].SourceOrder)
}
