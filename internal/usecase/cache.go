// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"address-key-service/internal/domain"
)

// SecretsCache はシークレットキャッシュのインターフェース。
// スレッドセーフであることは実装側が保証する。
type SecretsCache interface {
	// Get はエントリを返す。存在しない場合は nil, nil を返す。
	Get(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, error)
	// Set はエントリを無条件に書き込む。
	Set(ctx context.Context, key domain.CacheKey, entry domain.CacheEntry) error
	// IncludeInGroup はグループとメンバーの対応を置き換える。
	IncludeInGroup(ctx context.Context, group domain.CacheKey, members []domain.CacheKey) error
	// GroupMembers はメンバーを順序通り返す。グループ自体がない場合は found=false。
	GroupMembers(ctx context.Context, group domain.CacheKey) (members []domain.CacheKey, found bool, err error)
	// InvalidateGroup はグループとそのメンバーのエントリを削除する。
	InvalidateGroup(ctx context.Context, group domain.CacheKey) error
}

// Decoder はキャッシュエントリを値に変換する。
type Decoder[T any] func(data []byte, tag byte) (T, error)

// TrySingle はキャッシュからエントリを1件取得してデコードする。ミス時は投入しない。
func TrySingle[T any](ctx context.Context, cache SecretsCache, key domain.CacheKey, decode Decoder[T]) (T, bool, error) {
	var zero T
	entry, err := cache.Get(ctx, key)
	if err != nil {
		return zero, false, fmt.Errorf("reading cache entry: %w", err)
	}
	if entry == nil {
		return zero, false, nil
	}
	v, err := decode(entry.Data, entry.Tag)
	if err != nil {
		slog.WarnContext(ctx, "discarding undecodable cache entry",
			"operation", "try_single",
			"cache_key", key.String(),
			"error", err,
		)
		return zero, false, nil
	}
	return v, true, nil
}

// TryGroup はグループのメンバーをメンバー順にデコードして返す。
// メンバー0件のグループは有効なヒット。メンバーのエントリが欠けている場合はミスとして扱う。
func TryGroup[T any](ctx context.Context, cache SecretsCache, group domain.CacheKey, decode Decoder[T]) ([]T, bool, error) {
	members, found, err := cache.GroupMembers(ctx, group)
	if err != nil {
		return nil, false, fmt.Errorf("reading cache group: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	values := make([]T, 0, len(members))
	for _, member := range members {
		v, ok, err := TrySingle(ctx, cache, member, decode)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			slog.DebugContext(ctx, "cache group member missing",
				"operation", "try_group",
				"group", group.String(),
				"member", member.String(),
			)
			return nil, false, nil
		}
		values = append(values, v)
	}
	return values, true, nil
}

func decodePrivateKey(data []byte, tag byte) (domain.PrivateKey, error) {
	return domain.PrivateKey{Data: data, Primary: tag == domain.TagPrimary}, nil
}

func decodePublicKey(data []byte, tag byte) (domain.PublicKey, error) {
	return domain.PublicKey{Data: data, Flags: domain.KeyFlags(tag)}, nil
}

func decodeBytes(data []byte, _ byte) ([]byte, error) {
	return data, nil
}

func primaryTag(primary bool) byte {
	if primary {
		return domain.TagPrimary
	}
	return domain.TagSecondary
}
