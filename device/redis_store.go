package device

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusInactive int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
)

const registerDeviceScript = `
local key = KEYS[1]
local index_prefix = ARGV[1]
local subject = ARGV[2]
local device_id = ARGV[3]

local previous = redis.call("HGET", key, "sub")
if previous and previous ~= subject then
  redis.call("SREM", index_prefix .. previous, device_id)
end

redis.call("DEL", key)
redis.call("HSET", key,
  "sub", subject,
  "type", ARGV[4],
  "class", ARGV[5],
  "fam", ARGV[6],
  "rth", ARGV[7],
  "active", "1",
  "created", ARGV[8],
  "seen", ARGV[8],
  "ua", ARGV[9],
  "ip", ARGV[10])
redis.call("PEXPIRE", key, ARGV[11])
redis.call("SADD", index_prefix .. subject, device_id)
return 1
`

var registerDeviceLua = redis.NewScript(registerDeviceScript)

const rotateRefreshScript = `
local key = KEYS[1]
local fields = redis.call("HMGET", key, "sub", "active", "rth")
if not fields[1] or fields[1] ~= ARGV[1] then
  return 0
end
if fields[3] ~= ARGV[2] then
  return 2
end
if fields[2] ~= "1" then
  return 1
end

redis.call("HSET", key, "rth", ARGV[3], "seen", ARGV[4])
local ttl = tonumber(ARGV[5])
if ttl and ttl > 0 then
  redis.call("PEXPIRE", key, ttl)
end
return 3
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

const deactivateDeviceScript = `
local key = KEYS[1]
local sub = redis.call("HGET", key, "sub")
if not sub or sub ~= ARGV[1] then
  return 0
end
redis.call("HSET", key, "active", "0")
redis.call("SREM", KEYS[2], ARGV[2])
return 1
`

var deactivateDeviceLua = redis.NewScript(deactivateDeviceScript)

// RedisStore keeps each device in a Redis hash with a per-subject index set.
// Records expire with the refresh token they guard.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a RedisStore using keys under prefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "dv"
	}
	return &RedisStore{redis: rdb, prefix: prefix}
}

func (s *RedisStore) key(deviceID string) string {
	return s.prefix + ":d:" + deviceID
}

func (s *RedisStore) indexPrefix() string {
	return s.prefix + ":s:"
}

func (s *RedisStore) indexKey(subjectID string) string {
	return s.indexPrefix() + subjectID
}

// Register implements Store.
func (s *RedisStore) Register(ctx context.Context, d *Device, ttl time.Duration) error {
	if d == nil || d.ID == "" || d.SubjectID == "" {
		return errors.New("device requires id and subject")
	}
	if ttl <= 0 {
		return errors.New("device ttl must be positive")
	}
	err := registerDeviceLua.Run(ctx, s.redis,
		[]string{s.key(d.ID)},
		s.indexPrefix(),
		d.SubjectID,
		d.ID,
		d.Type,
		string(d.Class),
		d.Family,
		hex.EncodeToString(d.RefreshTokenHash[:]),
		strconv.FormatInt(d.CreatedAt.UnixMilli(), 10),
		d.UserAgent,
		d.IP,
		ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, deviceID string) (*Device, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeDevice(deviceID, fields)
}

// Rotate implements Store with a single Lua compare-and-swap.
func (s *RedisStore) Rotate(ctx context.Context, req RotateRequest) error {
	status, err := rotateRefreshLua.Run(ctx, s.redis,
		[]string{s.key(req.DeviceID)},
		req.SubjectID,
		hex.EncodeToString(req.Presented[:]),
		hex.EncodeToString(req.Next[:]),
		strconv.FormatInt(req.SeenAt.UnixMilli(), 10),
		req.TTL.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	switch status {
	case rotateStatusRotated:
		return nil
	case rotateStatusNotFound:
		return ErrNotFound
	case rotateStatusInactive:
		return ErrInactive
	case rotateStatusMismatch:
		return ErrHashMismatch
	default:
		return fmt.Errorf("%w: unexpected rotate status %d", ErrStoreUnavailable, status)
	}
}

// Deactivate implements Store. The record stays until it expires so that a
// late refresh on the device reports ErrInactive.
func (s *RedisStore) Deactivate(ctx context.Context, subjectID, deviceID string) error {
	n, err := deactivateDeviceLua.Run(ctx, s.redis,
		[]string{s.key(deviceID), s.indexKey(subjectID)},
		subjectID,
		deviceID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateAll implements Store.
//
// The index is read before the devices are flipped, so a device registered in
// between survives. Callers pair this with a subject-wide blacklist entry,
// which covers any token minted before the call.
func (s *RedisStore) DeactivateAll(ctx context.Context, subjectID string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.indexKey(subjectID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	cmds := make([]*redis.Cmd, 0, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			cmds = append(cmds, deactivateDeviceLua.Eval(ctx, pipe,
				[]string{s.key(id), s.indexKey(subjectID)},
				subjectID,
				id,
			))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	count := 0
	for _, cmd := range cmds {
		if n, _ := cmd.Int64(); n == 1 {
			count++
		}
	}
	return count, nil
}

// ListActive implements Store. Index members whose record expired or moved to
// another subject are pruned on the way.
func (s *RedisStore) ListActive(ctx context.Context, subjectID string) ([]Device, error) {
	indexKey := s.indexKey(subjectID)
	ids, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			cmds = append(cmds, pipe.HGetAll(ctx, s.key(id)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	devices := make([]Device, 0, len(ids))
	stale := make([]interface{}, 0)
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 || fields["sub"] != subjectID {
			stale = append(stale, ids[i])
			continue
		}
		d, err := decodeDevice(ids[i], fields)
		if err != nil || !d.Active {
			continue
		}
		devices = append(devices, *d)
	}
	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, indexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].LastSeenAt.After(devices[j].LastSeenAt)
	})
	return devices, nil
}

func decodeDevice(deviceID string, fields map[string]string) (*Device, error) {
	d := &Device{
		ID:        deviceID,
		SubjectID: fields["sub"],
		Type:      fields["type"],
		Class:     Class(fields["class"]),
		Family:    fields["fam"],
		Active:    fields["active"] == "1",
		UserAgent: fields["ua"],
		IP:        fields["ip"],
	}
	raw, err := hex.DecodeString(fields["rth"])
	if err != nil || len(raw) != len(d.RefreshTokenHash) {
		return nil, fmt.Errorf("device %s: corrupt refresh hash", deviceID)
	}
	copy(d.RefreshTokenHash[:], raw)
	if ms, err := strconv.ParseInt(fields["created"], 10, 64); err == nil {
		d.CreatedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(fields["seen"], 10, 64); err == nil {
		d.LastSeenAt = time.UnixMilli(ms)
	}
	return d, nil
}
