package services

import (
	"context"
	"testing"
	"time"

	"collab-service/internal/database"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*RedisService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisService(database.NewRedisClient(client)), mr
}

func TestRedisService_OnlineOffline(t *testing.T) {
	ctx := context.Background()
	svc, mr := setupRedis(t)

	require.NoError(t, svc.SetUserOnline(ctx, "alice"))
	require.NoError(t, svc.SetUserOnline(ctx, "bob"))

	online, err := mr.IsMember("online_users", "alice")
	require.NoError(t, err)
	assert.True(t, online)
	assert.Equal(t, "online", mr.HGet("user:alice:status", "status"))
	assert.Equal(t, 5*time.Minute, mr.TTL("user:alice:status"))

	require.NoError(t, svc.SetUserOffline(ctx, "alice"))
	online, err = mr.IsMember("online_users", "alice")
	require.NoError(t, err)
	assert.False(t, online)
	assert.Equal(t, "offline", mr.HGet("user:alice:status", "status"))
	assert.Equal(t, 24*time.Hour, mr.TTL("user:alice:status"))

	users, err := mr.Members("online_users")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, users)
}

func TestRedisService_OnlineUserIDs(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupRedis(t)

	require.NoError(t, svc.SetUserOnline(ctx, "bob"))
	require.NoError(t, svc.SetUserOnline(ctx, "dave"))

	online, err := svc.OnlineUserIDs(ctx, []string{"alice", "bob", "carol", "dave"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "dave"}, online)

	online, err = svc.OnlineUserIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestRedisService_UnavailableReturnsError(t *testing.T) {
	ctx := context.Background()
	svc, mr := setupRedis(t)
	mr.Close()

	assert.Error(t, svc.SetUserOnline(ctx, "alice"))
	_, err := svc.OnlineUserIDs(ctx, []string{"alice"})
	assert.Error(t, err)
}

func TestRedisService_CheckRateLimit(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupRedis(t)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		allowed, err := svc.CheckRateLimit(ctx, "ws_connect:alice", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "attempt %d", i+1)
		now = now.Add(time.Second)
	}

	allowed, err := svc.CheckRateLimit(ctx, "ws_connect:alice", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	now = now.Add(2 * time.Minute)
	allowed, err = svc.CheckRateLimit(ctx, "ws_connect:alice", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisService_ClearOnlineUsers(t *testing.T) {
	ctx := context.Background()
	svc, mr := setupRedis(t)

	require.NoError(t, svc.SetUserOnline(ctx, "alice"))
	require.NoError(t, svc.ClearOnlineUsers(ctx))

	assert.False(t, mr.Exists("online_users"))
	online, err := svc.OnlineUserIDs(ctx, []string{"alice"})
	require.NoError(t, err)
	assert.Empty(t, online)
}
