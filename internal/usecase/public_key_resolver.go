package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"address-key-service/internal/domain"
)

// PublicKeyDirectory は宛先の公開鍵を取得するインターフェース。
type PublicKeyDirectory interface {
	// GetActivePublicKeys は有効な公開鍵を返す。未知のアドレスは domain.ErrAddressUnknown。
	GetActivePublicKeys(ctx context.Context, email string) ([]domain.PublicKeyRecord, error)
}

// PublicKeyResolver は任意のメールアドレスの公開鍵を解決・キャッシュする。
type PublicKeyResolver struct {
	dir    PublicKeyDirectory
	cache  SecretsCache
	crypto CryptoProvider
}

// NewPublicKeyResolver は新しいPublicKeyResolverを生成する。
func NewPublicKeyResolver(dir PublicKeyDirectory, cache SecretsCache, crypto CryptoProvider) *PublicKeyResolver {
	return &PublicKeyResolver{
		dir:    dir,
		cache:  cache,
		crypto: crypto,
	}
}

// Resolve は漏洩していない公開鍵を返す。空の結果もキャッシュされる。
func (r *PublicKeyResolver) Resolve(ctx context.Context, email string) ([]domain.PublicKey, error) {
	email = normalizeEmail(email)
	ctx, span := tracer.Start(ctx, "PublicKeyResolver.Resolve",
		trace.WithAttributes(attribute.String("email", email)))
	defer span.End()

	group := domain.PublicKeysGroup(email)
	keys, ok, err := TryGroup(ctx, r.cache, group, decodePublicKey)
	if err != nil {
		return nil, err
	}
	if ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return keys, nil
	}

	recs, err := r.dir.GetActivePublicKeys(ctx, email)
	if err != nil {
		if !errors.Is(err, domain.ErrAddressUnknown) {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("fetching public keys: %w", err)
		}
		slog.InfoContext(ctx, "address unknown to directory, caching empty key set",
			"operation", "resolve_public_keys",
			"email", email,
		)
		recs = nil
	}

	keys = make([]domain.PublicKey, 0, len(recs))
	members := make([]domain.CacheKey, 0, len(recs))
	for _, rec := range recs {
		if !rec.Flags.Has(domain.KeyFlagNotCompromised) {
			continue
		}
		data, err := r.crypto.ImportPublicKey(rec.PublicKey)
		if err != nil {
			slog.WarnContext(ctx, "skipping public key",
				"operation", "resolve_public_keys",
				"email", email,
				"error", err,
			)
			continue
		}
		member := domain.PublicKeyEntry(email, len(members))
		if err := r.cache.Set(ctx, member, domain.CacheEntry{Data: data, Tag: byte(rec.Flags)}); err != nil {
			return nil, fmt.Errorf("caching public key: %w", err)
		}
		members = append(members, member)
		keys = append(keys, domain.PublicKey{Data: data, Flags: rec.Flags})
	}

	if err := r.cache.IncludeInGroup(ctx, group, members); err != nil {
		return nil, fmt.Errorf("caching public key group: %w", err)
	}
	return keys, nil
}

// Invalidate は宛先の公開鍵グループを無効化する。
func (r *PublicKeyResolver) Invalidate(ctx context.Context, email string) error {
	if err := r.cache.InvalidateGroup(ctx, domain.PublicKeysGroup(normalizeEmail(email))); err != nil {
		return fmt.Errorf("invalidating public keys: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
