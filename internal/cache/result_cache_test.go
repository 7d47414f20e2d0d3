package cache_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"retrocare-status/internal/cache"
	"retrocare-status/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func statusKey(patientID, day string) models.CacheKey {
	return models.CacheKey{Kind: models.AggregateStatus, EntityID: patientID, Day: day}
}

func statusSet(patientID, day string) *models.ReconciledStatusSet {
	return &models.ReconciledStatusSet{
		PatientID:  patientID,
		Day:        day,
		Statuses:   []models.ReconciledStatus{{MedicationName: "Aspirin", Taken: true}},
		ComputedAt: time.Now(),
	}
}

func TestResultCache_GetStates(t *testing.T) {
	c := cache.NewResultCache()
	key := statusKey("patient-1", "2026-08-30")

	// Absent
	value, state := c.Get(key)
	assert.Nil(t, value)
	assert.Equal(t, cache.Absent, state)

	// Fresh
	c.Put(key, statusSet("patient-1", "2026-08-30"))
	value, state = c.Get(key)
	require.NotNil(t, value)
	assert.Equal(t, cache.Fresh, state)

	// Stale：条目保留，可乐观返回
	c.Invalidate(key)
	value, state = c.Get(key)
	require.NotNil(t, value)
	assert.Equal(t, cache.Stale, state)
	assert.Equal(t, "patient-1", value.PatientID)
}

func TestResultCache_InvalidateIsIdempotent(t *testing.T) {
	c := cache.NewResultCache()
	key := statusKey("patient-1", "2026-08-30")

	// 不存在的 key：no-op，不 panic
	c.Invalidate(key)
	_, state := c.Get(key)
	assert.Equal(t, cache.Absent, state)

	c.Put(key, statusSet("patient-1", "2026-08-30"))
	c.Invalidate(key)
	c.Invalidate(key) // 已失效再失效仍是 no-op

	_, state = c.Get(key)
	assert.Equal(t, cache.Stale, state)
}

func TestResultCache_PutClearsStaleness(t *testing.T) {
	c := cache.NewResultCache()
	key := statusKey("patient-1", "2026-08-30")

	c.Put(key, statusSet("patient-1", "2026-08-30"))
	c.Invalidate(key)
	c.Put(key, statusSet("patient-1", "2026-08-30"))

	_, state := c.Get(key)
	assert.Equal(t, cache.Fresh, state)
}

// 失效精度：A 患者的事件绝不影响 B 患者或其它日期的条目
func TestResultCache_InvalidationPrecision(t *testing.T) {
	c := cache.NewResultCache()

	keyA := statusKey("patient-a", "2026-08-30")
	keyB := statusKey("patient-b", "2026-08-30")
	keyAOther := statusKey("patient-a", "2026-08-29")

	c.Put(keyA, statusSet("patient-a", "2026-08-30"))
	c.Put(keyB, statusSet("patient-b", "2026-08-30"))
	c.Put(keyAOther, statusSet("patient-a", "2026-08-29"))

	c.Invalidate(keyA)

	_, state := c.Get(keyA)
	assert.Equal(t, cache.Stale, state)
	_, state = c.Get(keyB)
	assert.Equal(t, cache.Fresh, state)
	_, state = c.Get(keyAOther)
	assert.Equal(t, cache.Fresh, state)
}

func TestResultCache_InvalidateEntity(t *testing.T) {
	c := cache.NewResultCache()

	c.Put(statusKey("patient-a", "2026-08-29"), statusSet("patient-a", "2026-08-29"))
	c.Put(statusKey("patient-a", "2026-08-30"), statusSet("patient-a", "2026-08-30"))
	c.Put(statusKey("patient-b", "2026-08-30"), statusSet("patient-b", "2026-08-30"))

	c.InvalidateEntity(models.AggregateStatus, "patient-a")

	_, state := c.Get(statusKey("patient-a", "2026-08-29"))
	assert.Equal(t, cache.Stale, state)
	_, state = c.Get(statusKey("patient-a", "2026-08-30"))
	assert.Equal(t, cache.Stale, state)
	_, state = c.Get(statusKey("patient-b", "2026-08-30"))
	assert.Equal(t, cache.Fresh, state)
}

func TestViewPublisher_PublishesJSONWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := cache.NewRedisKVStore(client)

	publisher := cache.NewViewPublisher(kv, 2*time.Minute, zap.NewNop())
	key := statusKey("patient-1", "2026-08-30")

	publisher.Publish(context.Background(), key, statusSet("patient-1", "2026-08-30"))

	val, err := client.Get(context.Background(), "care-status:status:patient-1:2026-08-30").Result()
	require.NoError(t, err)

	var set models.ReconciledStatusSet
	require.NoError(t, json.Unmarshal([]byte(val), &set))
	assert.Equal(t, "patient-1", set.PatientID)
	require.Len(t, set.Statuses, 1)
	assert.Equal(t, "Aspirin", set.Statuses[0].MedicationName)

	ttl := mr.TTL("care-status:status:patient-1:2026-08-30")
	assert.Equal(t, 2*time.Minute, ttl)
}

func TestRedisKVStore_MissReturnsErrCacheMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := cache.NewRedisKVStore(client)

	_, err := kv.Get(context.Background(), "no-such-key")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}
