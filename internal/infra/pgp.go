package infra

import (
	"errors"
	"fmt"

	"github.com/ProtonMail/gopenpgp/v2/crypto"

	"address-key-service/internal/domain"
)

// PGPProvider はgopenpgpによる暗号プロバイダ。
// 解錠済み鍵は Serialize した形式でやり取りし、NewKey で再インポートできる。
type PGPProvider struct{}

// NewPGPProvider は新しいPGPProviderを生成する。
func NewPGPProvider() *PGPProvider {
	return &PGPProvider{}
}

// UnlockPrivateKey はアーマー形式の秘密鍵をパスフレーズで解錠する。
func (p *PGPProvider) UnlockPrivateKey(armored string, passphrase []byte) ([]byte, error) {
	key, err := crypto.NewKeyFromArmored(armored)
	if err != nil {
		return nil, fmt.Errorf("importing private key: %w", err)
	}
	if !key.IsPrivate() {
		return nil, errors.New("key has no private material")
	}

	unlocked, err := key.Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}
	defer unlocked.ClearPrivateParams()

	data, err := unlocked.Serialize()
	if err != nil {
		return nil, fmt.Errorf("exporting private key: %w", err)
	}
	return data, nil
}

// DecryptToken はトークンを鍵リングで復号し、同じ鍵リングで分離署名を検証する。
func (p *PGPProvider) DecryptToken(token, signature string, ring []domain.PrivateKey) ([]byte, error) {
	keyRing, err := p.KeyRing(ring)
	if err != nil {
		return nil, err
	}
	defer keyRing.ClearPrivateParams()

	msg, err := crypto.NewPGPMessageFromArmored(token)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	sig, err := crypto.NewPGPSignatureFromArmored(signature)
	if err != nil {
		return nil, fmt.Errorf("parsing token signature: %w", err)
	}

	plain, err := keyRing.Decrypt(msg, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("decrypting token: %w", err)
	}
	if err := keyRing.VerifyDetached(plain, sig, crypto.GetUnixTime()); err != nil {
		return nil, fmt.Errorf("verifying token signature: %w", err)
	}
	return plain.GetBinary(), nil
}

// ImportPublicKey はアーマー形式の公開鍵を取り込み、バイナリ形式で返す。
func (p *PGPProvider) ImportPublicKey(armored string) ([]byte, error) {
	key, err := crypto.NewKeyFromArmored(armored)
	if err != nil {
		return nil, fmt.Errorf("importing public key: %w", err)
	}
	if key.IsPrivate() {
		if key, err = key.ToPublic(); err != nil {
			return nil, fmt.Errorf("extracting public key: %w", err)
		}
	}
	data, err := key.Serialize()
	if err != nil {
		return nil, fmt.Errorf("exporting public key: %w", err)
	}
	return data, nil
}

// KeyRing は解錠済み秘密鍵から鍵リングを作る。
func (p *PGPProvider) KeyRing(keys []domain.PrivateKey) (*crypto.KeyRing, error) {
	if len(keys) == 0 {
		return nil, errors.New("empty key ring")
	}
	keyRing, err := crypto.NewKeyRing(nil)
	if err != nil {
		return nil, fmt.Errorf("creating key ring: %w", err)
	}
	for _, k := range keys {
		key, err := crypto.NewKey(k.Data)
		if err != nil {
			return nil, fmt.Errorf("importing ring key: %w", err)
		}
		if err := keyRing.AddKey(key); err != nil {
			return nil, fmt.Errorf("adding ring key: %w", err)
		}
	}
	return keyRing, nil
}

// Fingerprint は鍵のフィンガープリントを返す。
func (p *PGPProvider) Fingerprint(data []byte) (string, error) {
	key, err := crypto.NewKey(data)
	if err != nil {
		return "", fmt.Errorf("importing key: %w", err)
	}
	return key.GetFingerprint(), nil
}

// ArmorPublicKey はバイナリ形式の鍵の公開部分をアーマー形式で返す。
func (p *PGPProvider) ArmorPublicKey(data []byte) (string, error) {
	key, err := crypto.NewKey(data)
	if err != nil {
		return "", fmt.Errorf("importing key: %w", err)
	}
	return key.GetArmoredPublicKey()
}
