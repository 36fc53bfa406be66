package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"address-key-service/internal/domain"
)

// UserDirectory はユーザー情報を取得するインターフェース。
type UserDirectory interface {
	GetUser(ctx context.Context) (*domain.UserRecord, error)
}

// UserKeyResolver は呼び出し元自身のユーザー鍵を解決する。
// ユーザーIDとパスフレーズは既知の識別情報として生成時に渡され、アドレス解決からは導出しない。
type UserKeyResolver struct {
	dir        UserDirectory
	cache      SecretsCache
	crypto     CryptoProvider
	userID     string
	passphrase []byte
	flight     singleflight.Group
}

// NewUserKeyResolver は新しいUserKeyResolverを生成する。
func NewUserKeyResolver(dir UserDirectory, cache SecretsCache, crypto CryptoProvider, userID string, passphrase []byte) *UserKeyResolver {
	return &UserKeyResolver{
		dir:        dir,
		cache:      cache,
		crypto:     crypto,
		userID:     userID,
		passphrase: passphrase,
	}
}

// Keys は解錠済みのユーザー鍵を返す。キャッシュミス時は1回だけ再取得する。
func (r *UserKeyResolver) Keys(ctx context.Context) ([]domain.PrivateKey, error) {
	group := domain.UserKeysGroup(r.userID)
	keys, ok, err := TryGroup(ctx, r.cache, group, decodePrivateKey)
	if err != nil {
		return nil, err
	}
	if ok {
		return keys, nil
	}

	if err := doShared(ctx, &r.flight, r.userID, r.load); err != nil {
		return nil, err
	}

	keys, ok, err = TryGroup(ctx, r.cache, group, decodePrivateKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNoUserKeys, r.userID)
	}
	return keys, nil
}

func (r *UserKeyResolver) load(ctx context.Context) error {
	user, err := r.dir.GetUser(ctx)
	if err != nil {
		return fmt.Errorf("fetching user: %w", err)
	}

	members := make([]domain.CacheKey, 0, len(user.Keys))
	for _, k := range user.Keys {
		if !k.Active {
			continue
		}
		data, err := r.crypto.UnlockPrivateKey(k.PrivateKey, r.passphrase)
		if err != nil {
			slog.WarnContext(ctx, "skipping user key",
				"operation", "load_user_keys",
				"user_id", r.userID,
				"key_id", k.ID,
				"error", err,
			)
			continue
		}
		key := domain.UserKeyEntry(k.ID)
		if err := r.cache.Set(ctx, key, domain.CacheEntry{Data: data, Tag: primaryTag(k.Primary)}); err != nil {
			return fmt.Errorf("caching user key: %w", err)
		}
		members = append(members, key)
	}
	if len(members) == 0 {
		return fmt.Errorf("%w: user %s", domain.ErrNoUserKeys, r.userID)
	}

	if err := r.cache.IncludeInGroup(ctx, domain.UserKeysGroup(r.userID), members); err != nil {
		return fmt.Errorf("caching user key group: %w", err)
	}
	return nil
}
