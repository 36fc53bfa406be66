package usecase

import (
	"context"
	"fmt"

	"address-key-service/internal/domain"
)

// passphraseSource はアドレス鍵のパスフレーズの取得方法。
// tokenWrapped または legacyCached のいずれか。
type passphraseSource interface {
	passphrase(ctx context.Context, crypto CryptoProvider, cache SecretsCache, ring *userRing) ([]byte, error)
}

// tokenWrapped はユーザー鍵で暗号化・署名されたトークンからパスフレーズを復元する。
type tokenWrapped struct {
	token     string
	signature string
}

// legacyCached は以前キャッシュされたパスフレーズを使う。
type legacyCached struct {
	keyID domain.AddressKeyID
}

// passphraseSourceFor はレコードの形から取得方法を一度だけ決める。
func passphraseSourceFor(rec domain.AddressKeyRecord) passphraseSource {
	if rec.Token != "" && rec.Signature != "" {
		return tokenWrapped{token: rec.Token, signature: rec.Signature}
	}
	return legacyCached{keyID: rec.ID}
}

func (s tokenWrapped) passphrase(ctx context.Context, crypto CryptoProvider, _ SecretsCache, ring *userRing) ([]byte, error) {
	keys, err := ring.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUserKeysUnavailable, err)
	}
	pass, err := crypto.DecryptToken(s.token, s.signature, keys)
	if err != nil {
		return nil, fmt.Errorf("decrypting token: %w", err)
	}
	return pass, nil
}

func (s legacyCached) passphrase(ctx context.Context, _ CryptoProvider, cache SecretsCache, _ *userRing) ([]byte, error) {
	pass, ok, err := TrySingle(ctx, cache, domain.LegacyPassphraseEntry(s.keyID), decodeBytes)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: legacy key %s", domain.ErrPassphraseUnavailable, s.keyID)
	}
	return pass, nil
}

// userRing はユーザー鍵を1回の解決につき高々1回だけ取得する。
// トークン方式の鍵がない場合は取得しない。
type userRing struct {
	src  UserKeyRing
	keys []domain.PrivateKey
	err  error
	done bool
}

func newUserRing(src UserKeyRing) *userRing {
	return &userRing{src: src}
}

func (r *userRing) get(ctx context.Context) ([]domain.PrivateKey, error) {
	if !r.done {
		r.keys, r.err = r.src.Keys(ctx)
		r.done = true
	}
	return r.keys, r.err
}
