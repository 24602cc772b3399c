package idem

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"

	"github.com/ceyewan/idemguard/connector"
	"github.com/ceyewan/idemguard/xerrors"
)

// Redis 存储布局（{<key>} 为集群哈希标签，同一幂等键的数据落在同一槽位）：
//
//	<prefix>{<key>}:<len(method)>:<method>:<path>   hash，当前记录
//	<prefix>{<key>}:s:<id>                          hash，被取代的旧记录（改名保留，不删除）
//	<prefix>{<key>}:k                               set，幂等键下所有三元组的 hash 键名
//	<prefix>seq                                     记录 ID 序列
//	<prefix>id:<id>                                 ID 到 hash 键名的索引，供 Release 使用
//
// 脚本只访问同一哈希标签下、经 KEYS 传入的键；序列与 ID 索引在脚本外维护。
// 时间以毫秒时间戳保存，由 Go 侧时钟传入脚本；locked_at 为 "0" 表示未锁定。

const (
	scriptDuplicate = -1
	scriptNotFound  = -2
	scriptConflict  = 0
	scriptCompleted = -3
)

// KEYS[1]=hash KEYS[2]=key set KEYS[3]=superseded hash（仅在取代时使用）
// ARGV: id, now, cutoff, key, method, path, params, 预期的旧 id（无记录时为 0）
// 返回 {id, 被取代的旧 id}；存活记录已存在或旧记录已变化时返回 {-1, 0}
var createScript = redis.NewScript(`
local updated = redis.call('HGET', KEYS[1], 'updated_at')
local oldid = 0
if updated then
  if tonumber(updated) >= tonumber(ARGV[3]) then
    return {-1, 0}
  end
  oldid = tonumber(redis.call('HGET', KEYS[1], 'id'))
  if oldid ~= tonumber(ARGV[8]) then
    return {-1, 0}
  end
  redis.call('HSET', KEYS[1], 'superseded_at', ARGV[2])
  redis.call('RENAME', KEYS[1], KEYS[3])
  redis.call('SREM', KEYS[2], KEYS[1])
  redis.call('SADD', KEYS[2], KEYS[3])
end
redis.call('HSET', KEYS[1],
  'id', ARGV[1], 'key', ARGV[4], 'method', ARGV[5], 'path', ARGV[6], 'params', ARGV[7],
  'locked_at', '0', 'status', '0', 'body', '', 'headers', '{}',
  'created_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('SADD', KEYS[2], KEYS[1])
return {tonumber(ARGV[1]), oldid}
`)

// KEYS[1]=hash  ARGV: id, now
var lockScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'id', 'locked_at', 'superseded_at', 'status', 'body')
if not cur[1] or cur[1] ~= ARGV[1] or cur[3] then
  return -2
end
if cur[2] ~= '0' then
  return 0
end
if cur[4] ~= '0' and cur[5] ~= '' then
  return -3
end
redis.call('HSET', KEYS[1], 'locked_at', ARGV[2], 'updated_at', ARGV[2])
return 1
`)

// KEYS[1]=hash  ARGV: id, now
var unlockScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'id', 'locked_at')
if not cur[1] or cur[1] ~= ARGV[1] then
  return -2
end
if cur[2] == '0' then
  return 0
end
redis.call('HSET', KEYS[1], 'locked_at', '0', 'updated_at', ARGV[2])
return 1
`)

// KEYS[1]=hash  ARGV: id, now, body, status, headers
var setResponseScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'id')
if not cur or cur ~= ARGV[1] then
  return -2
end
redis.call('HSET', KEYS[1], 'body', ARGV[3], 'status', ARGV[4], 'headers', ARGV[5], 'updated_at', ARGV[2])
return 1
`)

// redisStore 基于 Redis Lua 脚本的存储实现
type redisStore struct {
	conn   connector.RedisConnector
	prefix string
	clock  clock
}

func newRedisStore(conn connector.RedisConnector, prefix string, c clock) *redisStore {
	return &redisStore{conn: conn, prefix: prefix, clock: c}
}

// keyTag 同一幂等键下所有键名的公共前缀
func (s *redisStore) keyTag(key string) string {
	return s.prefix + "{" + key + "}:"
}

// hashKey method 带长度前缀，path 取剩余部分，任意字符都不会产生歧义
func (s *redisStore) hashKey(key, method, path string) string {
	return s.keyTag(key) + strconv.Itoa(len(method)) + ":" + method + ":" + path
}

func (s *redisStore) supersededKey(key string, id uint64) string {
	return s.keyTag(key) + "s:" + strconv.FormatUint(id, 10)
}

func (s *redisStore) idKey(id uint64) string {
	return s.prefix + "id:" + strconv.FormatUint(id, 10)
}

func (s *redisStore) FindAlive(ctx context.Context, key, method, path string) (*Record, error) {
	fields, err := s.conn.GetClient().HGetAll(ctx, s.hashKey(key, method, path)).Result()
	if err != nil {
		return nil, xerrors.Wrap(err, "idem: find alive record")
	}
	return s.aliveRecord(fields)
}

func (s *redisStore) FindAliveByKey(ctx context.Context, key string) (*Record, error) {
	client := s.conn.GetClient()
	hashes, err := client.SMembers(ctx, s.keyTag(key)+"k").Result()
	if err != nil {
		return nil, xerrors.Wrap(err, "idem: list records by key")
	}

	pipe := client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(hashes))
	for i, h := range hashes {
		cmds[i] = pipe.HGetAll(ctx, h)
	}
	if len(hashes) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, xerrors.Wrap(err, "idem: load records by key")
		}
	}

	var latest *Record
	for _, cmd := range cmds {
		rec, err := s.aliveRecord(cmd.Val())
		if err != nil {
			return nil, err
		}
		if rec != nil && (latest == nil || !rec.UpdatedAt.Before(latest.UpdatedAt)) {
			latest = rec
		}
	}
	return latest, nil
}

// aliveRecord 解码 hash，不存在或已离开存活窗口时返回 nil
func (s *redisStore) aliveRecord(fields map[string]string) (*Record, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	rec, err := decodeRecord(fields)
	if err != nil {
		return nil, err
	}
	// 与脚本一致，按毫秒比较
	if rec.UpdatedAt.UnixMilli() < s.clock.cutoff(s.clock.Now()).UnixMilli() {
		return nil, nil
	}
	return rec, nil
}

func (s *redisStore) Create(ctx context.Context, key, method, path string, params []byte) (*Record, error) {
	client := s.conn.GetClient()
	seq, err := client.Incr(ctx, s.prefix+"seq").Result()
	if err != nil {
		return nil, xerrors.Wrap(err, "idem: allocate record id")
	}
	id := uint64(seq)
	hash := s.hashKey(key, method, path)

	// 被取代记录的键名依赖旧 ID，先读出以便通过 KEYS 传入脚本
	oldID, err := client.HGet(ctx, hash, "id").Uint64()
	if err != nil && err != redis.Nil {
		return nil, xerrors.Wrap(err, "idem: read current record id")
	}
	superseded := s.supersededKey(key, oldID)

	now := s.clock.Now()
	res, err := createScript.Run(ctx, client,
		[]string{hash, s.keyTag(key) + "k", superseded},
		id, now.UnixMilli(), s.clock.cutoff(now).UnixMilli(), key, method, path, string(params), oldID,
	).Int64Slice()
	if err != nil {
		return nil, xerrors.Wrap(err, "idem: create record")
	}
	if len(res) != 2 {
		return nil, xerrors.Wrapf(xerrors.ErrConflict, "idem: unexpected create result %v", res)
	}
	if res[0] == scriptDuplicate {
		return nil, ErrDuplicateKey
	}

	pipe := client.Pipeline()
	pipe.Set(ctx, s.idKey(id), hash, 0)
	if res[1] != 0 {
		pipe.Set(ctx, s.idKey(oldID), superseded, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, xerrors.Wrap(err, "idem: index record id")
	}

	ts := time.UnixMilli(now.UnixMilli()).UTC()
	return &Record{
		ID:              id,
		Key:             key,
		RequestMethod:   method,
		RequestPath:     path,
		RequestParams:   datatypes.JSON(params),
		ResponseHeaders: datatypes.NewJSONType(Headers{}),
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}, nil
}

func (s *redisStore) SetResponse(ctx context.Context, rec *Record, body string, status int, headers Headers) error {
	now := s.clock.Now()
	headers = normalizeHeaders(headers)
	encoded, err := json.Marshal(headers)
	if err != nil {
		return xerrors.Wrap(err, "idem: encode response headers")
	}
	res, err := setResponseScript.Run(ctx, s.conn.GetClient(),
		[]string{s.hashKey(rec.Key, rec.RequestMethod, rec.RequestPath)},
		rec.ID, now.UnixMilli(), body, status, string(encoded),
	).Int64()
	if err != nil {
		return xerrors.Wrap(err, "idem: set response")
	}
	if res == scriptNotFound {
		return xerrors.Wrapf(xerrors.ErrNotFound, "idem: record %d", rec.ID)
	}
	rec.ResponseBody = body
	rec.ResponseStatus = status
	rec.ResponseHeaders = datatypes.NewJSONType(headers)
	rec.UpdatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	return nil
}

func (s *redisStore) Lock(ctx context.Context, rec *Record) error {
	now := s.clock.Now()
	res, err := lockScript.Run(ctx, s.conn.GetClient(),
		[]string{s.hashKey(rec.Key, rec.RequestMethod, rec.RequestPath)},
		rec.ID, now.UnixMilli(),
	).Int64()
	if err != nil {
		return xerrors.Wrap(err, "idem: lock record")
	}
	switch res {
	case scriptNotFound:
		return xerrors.Wrapf(xerrors.ErrNotFound, "idem: record %d", rec.ID)
	case scriptConflict:
		return ErrAlreadyLocked
	case scriptCompleted:
		return ErrAlreadyCompleted
	}
	ts := time.UnixMilli(now.UnixMilli()).UTC()
	rec.LockedAt = &ts
	rec.UpdatedAt = ts
	return nil
}

func (s *redisStore) Unlock(ctx context.Context, rec *Record) error {
	now, err := s.unlock(ctx, s.hashKey(rec.Key, rec.RequestMethod, rec.RequestPath), rec.ID)
	if err != nil {
		return err
	}
	rec.LockedAt = nil
	rec.UpdatedAt = now
	return nil
}

func (s *redisStore) unlock(ctx context.Context, hash string, id uint64) (time.Time, error) {
	now := s.clock.Now()
	res, err := unlockScript.Run(ctx, s.conn.GetClient(), []string{hash}, id, now.UnixMilli()).Int64()
	if err != nil {
		return now, xerrors.Wrap(err, "idem: unlock record")
	}
	switch res {
	case scriptNotFound:
		return now, xerrors.Wrapf(xerrors.ErrNotFound, "idem: record %d", id)
	case scriptConflict:
		return now, ErrNotLocked
	}
	return time.UnixMilli(now.UnixMilli()).UTC(), nil
}

func (s *redisStore) Release(ctx context.Context, id uint64) error {
	hash, err := s.conn.GetClient().Get(ctx, s.idKey(id)).Result()
	if err == redis.Nil {
		return xerrors.Wrapf(xerrors.ErrNotFound, "idem: record %d", id)
	}
	if err != nil {
		return xerrors.Wrap(err, "idem: release record")
	}
	_, err = s.unlock(ctx, hash, id)
	return err
}

func decodeRecord(fields map[string]string) (*Record, error) {
	id, err := strconv.ParseUint(fields["id"], 10, 64)
	if err != nil {
		return nil, xerrors.Wrapf(err, "idem: decode record id %q", fields["id"])
	}
	status, err := strconv.Atoi(fields["status"])
	if err != nil {
		return nil, xerrors.Wrapf(err, "idem: decode record %d status", id)
	}
	var headers Headers
	if err := json.Unmarshal([]byte(fields["headers"]), &headers); err != nil {
		return nil, xerrors.Wrapf(err, "idem: decode record %d headers", id)
	}

	rec := &Record{
		ID:              id,
		Key:             fields["key"],
		RequestMethod:   fields["method"],
		RequestPath:     fields["path"],
		RequestParams:   datatypes.JSON(fields["params"]),
		ResponseStatus:  status,
		ResponseBody:    fields["body"],
		ResponseHeaders: datatypes.NewJSONType(normalizeHeaders(headers)),
	}
	if rec.CreatedAt, err = parseMillis(fields["created_at"]); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseMillis(fields["updated_at"]); err != nil {
		return nil, err
	}
	if locked := fields["locked_at"]; locked != "" && locked != "0" {
		ts, err := parseMillis(locked)
		if err != nil {
			return nil, err
		}
		rec.LockedAt = &ts
	}
	return rec, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, xerrors.Wrapf(err, "idem: decode timestamp %q", s)
	}
	return time.UnixMilli(ms).UTC(), nil
}
