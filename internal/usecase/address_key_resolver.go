package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"address-key-service/internal/domain"
)

var tracer = otel.Tracer("address-key-service/internal/usecase")

// AddressDirectory はアドレス情報を取得するインターフェース。
type AddressDirectory interface {
	GetAddresses(ctx context.Context) ([]domain.AddressRecord, error)
	GetAddress(ctx context.Context, id domain.AddressID) (*domain.AddressRecord, error)
}

// CryptoProvider は鍵の解錠・復号のインターフェース。
// 鍵はすべて再インポート可能なバイナリ形式でやり取りする。
type CryptoProvider interface {
	// UnlockPrivateKey はアーマー形式の秘密鍵をパスフレーズで解錠し、解錠済みの形式で返す。
	UnlockPrivateKey(armored string, passphrase []byte) ([]byte, error)
	// DecryptToken はトークンを鍵リングで復号し、同じ鍵リングで署名を検証する。
	DecryptToken(token, signature string, ring []domain.PrivateKey) ([]byte, error)
	// ImportPublicKey はアーマー形式の公開鍵を取り込む。
	ImportPublicKey(armored string) ([]byte, error)
}

// UserKeyRing は呼び出し元自身の解錠済み鍵を提供する。
type UserKeyRing interface {
	Keys(ctx context.Context) ([]domain.PrivateKey, error)
}

// AddressKeyResolver はアドレスと鍵を解決し、解錠済み鍵をキャッシュする。
type AddressKeyResolver struct {
	dir    AddressDirectory
	user   UserKeyRing
	cache  SecretsCache
	crypto CryptoProvider
	flight singleflight.Group
}

// NewAddressKeyResolver は新しいAddressKeyResolverを生成する。
func NewAddressKeyResolver(dir AddressDirectory, user UserKeyRing, cache SecretsCache, crypto CryptoProvider) *AddressKeyResolver {
	return &AddressKeyResolver{
		dir:    dir,
		user:   user,
		cache:  cache,
		crypto: crypto,
	}
}

// Resolve はセレクタに従ってアドレスを解決する。
func (r *AddressKeyResolver) Resolve(ctx context.Context, sel domain.AddressSelector) ([]*domain.Address, error) {
	switch sel.Kind {
	case domain.SelectByID:
		addr, err := r.ResolveAddress(ctx, sel.ID)
		if err != nil {
			return nil, err
		}
		return []*domain.Address{addr}, nil
	case domain.SelectAllAddresses:
		addrs, _, err := r.ResolveAll(ctx)
		return addrs, err
	case domain.SelectDefaultAddress:
		addr, err := r.ResolveDefault(ctx)
		if err != nil {
			return nil, err
		}
		return []*domain.Address{addr}, nil
	default:
		return nil, fmt.Errorf("unknown selector kind %d", sel.Kind)
	}
}

// ResolveAddress は指定されたアドレスを取得・解錠し、鍵をキャッシュグループに書き込む。
func (r *AddressKeyResolver) ResolveAddress(ctx context.Context, id domain.AddressID) (*domain.Address, error) {
	ctx, span := tracer.Start(ctx, "AddressKeyResolver.ResolveAddress",
		trace.WithAttributes(attribute.String("address.id", string(id))))
	defer span.End()

	rec, err := r.dir.GetAddress(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fetching address: %w", err)
	}

	addr, err := r.build(ctx, rec, newUserRing(r.user))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return addr, nil
}

// ResolveAll は全アドレスを解決する。
// 失敗したアドレスは結果から除外され、failuresとして返される。
func (r *AddressKeyResolver) ResolveAll(ctx context.Context) ([]*domain.Address, []domain.AddressFailure, error) {
	ctx, span := tracer.Start(ctx, "AddressKeyResolver.ResolveAll")
	defer span.End()

	recs, err := r.dir.GetAddresses(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, fmt.Errorf("fetching addresses: %w", err)
	}

	ring := newUserRing(r.user)
	addrs := make([]*domain.Address, 0, len(recs))
	var failures []domain.AddressFailure
	for i := range recs {
		rec := &recs[i]
		addr, err := r.build(ctx, rec, ring)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			if errors.Is(err, domain.ErrUserKeysUnavailable) {
				span.SetStatus(codes.Error, err.Error())
				return nil, nil, err
			}
			slog.WarnContext(ctx, "discarding address",
				"operation", "resolve_all",
				"address_id", rec.ID,
				"error", err,
			)
			failures = append(failures, domain.AddressFailure{AddressID: rec.ID, Email: rec.Email, Reason: err})
			continue
		}
		addrs = append(addrs, addr)
	}

	span.SetAttributes(
		attribute.Int("addresses.resolved", len(addrs)),
		attribute.Int("addresses.failed", len(failures)),
	)
	return addrs, failures, nil
}

// ResolveDefault はOrderが最小のアドレスを返す。
func (r *AddressKeyResolver) ResolveDefault(ctx context.Context) (*domain.Address, error) {
	addrs, _, err := r.ResolveAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, domain.ErrNoAddressAvailable
	}

	def := addrs[0]
	for _, a := range addrs[1:] {
		if a.Order < def.Order {
			def = a
		}
	}
	return def, nil
}

// KeysForAddress はキャッシュからアドレスの解錠済み鍵を返す。
// ミス時はアドレスを1回だけ再解決して再試行し、それでもミスの場合はエラー。
func (r *AddressKeyResolver) KeysForAddress(ctx context.Context, id domain.AddressID) ([]domain.PrivateKey, error) {
	group := domain.AddressKeysGroup(id)
	keys, ok, err := TryGroup(ctx, r.cache, group, decodePrivateKey)
	if err != nil {
		return nil, err
	}
	if ok {
		return keys, nil
	}

	if err := r.refresh(ctx, id); err != nil {
		return nil, err
	}

	keys, ok, err = TryGroup(ctx, r.cache, group, decodePrivateKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAddressKeysUnavailable, id)
	}
	return keys, nil
}

// PrimaryKeyForAddress はアドレスのプライマリ鍵を返す。
func (r *AddressKeyResolver) PrimaryKeyForAddress(ctx context.Context, id domain.AddressID) (domain.PrivateKey, error) {
	keys, err := r.KeysForAddress(ctx, id)
	if err != nil {
		return domain.PrivateKey{}, err
	}
	for _, k := range keys {
		if k.Primary {
			return k, nil
		}
	}
	return domain.PrivateKey{}, fmt.Errorf("%w: %s", domain.ErrNoPrimaryKey, id)
}

// InvalidateAddress はアドレスの鍵グループを無効化する。
func (r *AddressKeyResolver) InvalidateAddress(ctx context.Context, id domain.AddressID) error {
	if err := r.cache.InvalidateGroup(ctx, domain.AddressKeysGroup(id)); err != nil {
		return fmt.Errorf("invalidating address keys: %w", err)
	}
	return nil
}

// RememberLegacyPassphrase はレガシー鍵のパスフレーズをキャッシュする。
func (r *AddressKeyResolver) RememberLegacyPassphrase(ctx context.Context, id domain.AddressKeyID, passphrase []byte) error {
	if err := r.cache.Set(ctx, domain.LegacyPassphraseEntry(id), domain.CacheEntry{Data: passphrase}); err != nil {
		return fmt.Errorf("caching legacy passphrase: %w", err)
	}
	return nil
}

// refresh は同一アドレスへの同時再解決を1回にまとめる。
func (r *AddressKeyResolver) refresh(ctx context.Context, id domain.AddressID) error {
	return doShared(ctx, &r.flight, string(id), func(ctx context.Context) error {
		_, err := r.ResolveAddress(ctx, id)
		return err
	})
}

// keyOutcome は鍵1件の解錠結果。errがnilでなければスキップ。
type keyOutcome struct {
	rec  *domain.AddressKeyRecord
	data []byte
	err  error
}

func (r *AddressKeyResolver) unlock(ctx context.Context, rec *domain.AddressKeyRecord, ring *userRing) keyOutcome {
	if !rec.Active {
		return keyOutcome{rec: rec, err: domain.ErrKeyInactive}
	}

	pass, err := passphraseSourceFor(*rec).passphrase(ctx, r.crypto, r.cache, ring)
	if err != nil {
		return keyOutcome{rec: rec, err: err}
	}
	data, err := r.crypto.UnlockPrivateKey(rec.PrivateKey, pass)
	clear(pass)
	if err != nil {
		return keyOutcome{rec: rec, err: fmt.Errorf("unlocking key: %w", err)}
	}
	return keyOutcome{rec: rec, data: data}
}

// build はアドレスレコードの各鍵を解錠し、成功した鍵をキャッシュグループに書き込んでAddressを生成する。
func (r *AddressKeyResolver) build(ctx context.Context, rec *domain.AddressRecord, ring *userRing) (*domain.Address, error) {
	outcomes := make([]keyOutcome, 0, len(rec.Keys))
	for i := range rec.Keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o := r.unlock(ctx, &rec.Keys[i], ring)
		if errors.Is(o.err, domain.ErrUserKeysUnavailable) {
			return nil, o.err
		}
		outcomes = append(outcomes, o)
	}

	var (
		keys    []domain.AddressKey
		members []domain.CacheKey
		skipped []domain.SkippedKey
		primary = -1
	)
	for _, o := range outcomes {
		if o.err != nil {
			if errors.Is(o.err, context.Canceled) || errors.Is(o.err, context.DeadlineExceeded) {
				return nil, o.err
			}
			slog.WarnContext(ctx, "skipping address key",
				"operation", "resolve_address",
				"address_id", rec.ID,
				"key_id", o.rec.ID,
				"error", o.err,
			)
			skipped = append(skipped, domain.SkippedKey{KeyID: o.rec.ID, Reason: o.err})
			continue
		}

		member := domain.AddressKeyEntry(o.rec.ID)
		if err := r.cache.Set(ctx, member, domain.CacheEntry{Data: o.data, Tag: primaryTag(o.rec.Primary)}); err != nil {
			return nil, fmt.Errorf("caching address key: %w", err)
		}
		if o.rec.Primary && primary < 0 {
			primary = len(keys)
		}
		members = append(members, member)
		keys = append(keys, domain.AddressKey{
			AddressID:  rec.ID,
			KeyID:      o.rec.ID,
			CanEncrypt: o.rec.Flags.Has(domain.KeyFlagNotObsolete),
			Primary:    o.rec.Primary,
		})
	}

	if primary < 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoPrimaryKey, rec.ID)
	}

	if err := r.cache.IncludeInGroup(ctx, domain.AddressKeysGroup(rec.ID), members); err != nil {
		return nil, fmt.Errorf("caching address key group: %w", err)
	}

	addr, err := domain.NewAddress(rec.ID, rec.Order, rec.Email, rec.Status, keys, primary)
	if err != nil {
		return nil, err
	}
	addr.Skipped = skipped
	return addr, nil
}
