package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/userdir/internal/model"
)

// createUserScript はHSETNXで新規の場合のみ作成順序を払い出してソート済みセットに登録する。
// KEYS: users, users:order, users:seq / ARGV: id, document
var createUserScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
local seq = redis.call('INCR', KEYS[3])
redis.call('ZADD', KEYS[2], seq, ARGV[1])
return 1
`)

// RedisUserRepo はRedisを使用したユーザーリポジトリ。
//
// キー構成:
//
//	<prefix>:users        HASH  id -> JSONドキュメント
//	<prefix>:users:order  ZSET  id -> 作成順序
//	<prefix>:users:seq    STRING 作成順序のカウンタ
type RedisUserRepo struct {
	client   redis.UniversalClient
	usersKey string
	orderKey string
	seqKey   string
}

// NewRedisUserRepo はRedisUserRepoを生成する。
func NewRedisUserRepo(client redis.UniversalClient, prefix string) *RedisUserRepo {
	return &RedisUserRepo{
		client:   client,
		usersKey: prefix + ":users",
		orderKey: prefix + ":users:order",
		seqKey:   prefix + ":users:seq",
	}
}

// userDocument はRedisに保存するユーザーのJSON表現。
type userDocument struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
}

// GetAll は全ユーザーを作成順に返す。
// 取得の間に削除されたIDは読み飛ばす。
func (r *RedisUserRepo) GetAll(ctx context.Context) ([]model.User, error) {
	ids, err := r.client.ZRange(ctx, r.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list user ids: %w", err)
	}

	users := make([]model.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	values, err := r.client.HMGet(ctx, r.usersKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		u, err := decodeUser(raw)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}

	return users, nil
}

// GetByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *RedisUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	raw, err := r.client.HGet(ctx, r.usersKey, id.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return decodeUser(raw)
}

// Create はユーザーを作成する。同じIDが既に存在する場合はfalseを返す。
func (r *RedisUserRepo) Create(ctx context.Context, user model.User) (bool, error) {
	doc, err := json.Marshal(userDocument{ID: user.ID.String(), FullName: user.FullName})
	if err != nil {
		return false, fmt.Errorf("failed to encode user: %w", err)
	}

	created, err := createUserScript.Run(ctx, r.client,
		[]string{r.usersKey, r.orderKey, r.seqKey},
		user.ID.String(), string(doc),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to insert user: %w", err)
	}
	return created == 1, nil
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *RedisUserRepo) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	var hdel *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hdel = pipe.HDel(ctx, r.usersKey, id.String())
		pipe.ZRem(ctx, r.orderKey, id.String())
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	return hdel.Val() > 0, nil
}

// Ping はRedisへの疎通を確認する。ヘルスチェック用。
func (r *RedisUserRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func decodeUser(raw string) (*model.User, error) {
	var doc userDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user ID %q: %w", doc.ID, err)
	}
	return &model.User{ID: id, FullName: doc.FullName}, nil
}

// compile-time interface check
var _ UserRepository = (*RedisUserRepo)(nil)
