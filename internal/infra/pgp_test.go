package infra

import (
	"bytes"
	"testing"

	"github.com/ProtonMail/gopenpgp/v2/crypto"

	"address-key-service/internal/domain"
)

// generateLockedKey はパスフレーズでロックされたアーマー形式の鍵を生成する。
func generateLockedKey(t *testing.T, email string, passphrase []byte) (*crypto.Key, string) {
	t.Helper()

	key, err := crypto.GenerateKey("test", email, "x25519", 0)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	locked, err := key.Lock(passphrase)
	if err != nil {
		t.Fatalf("failed to lock key: %v", err)
	}
	armored, err := locked.Armor()
	if err != nil {
		t.Fatalf("failed to armor key: %v", err)
	}
	return key, armored
}

// encryptToken はユーザー鍵でトークンを暗号化し、分離署名を付与する。
func encryptToken(t *testing.T, userKey *crypto.Key, secret []byte) (string, string) {
	t.Helper()

	ring, err := crypto.NewKeyRing(userKey)
	if err != nil {
		t.Fatalf("failed to create key ring: %v", err)
	}
	plain := crypto.NewPlainMessage(secret)

	msg, err := ring.Encrypt(plain, nil)
	if err != nil {
		t.Fatalf("failed to encrypt token: %v", err)
	}
	sig, err := ring.SignDetached(plain)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	armoredMsg, err := msg.GetArmored()
	if err != nil {
		t.Fatalf("failed to armor token: %v", err)
	}
	armoredSig, err := sig.GetArmored()
	if err != nil {
		t.Fatalf("failed to armor signature: %v", err)
	}
	return armoredMsg, armoredSig
}

func TestPGPProvider_UnlockPrivateKey(t *testing.T) {
	p := NewPGPProvider()
	key, armored := generateLockedKey(t, "alice@example.com", []byte("correct horse"))

	data, err := p.UnlockPrivateKey(armored, []byte("correct horse"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 再インポートでき、同じ鍵であること
	reimported, err := crypto.NewKey(data)
	if err != nil {
		t.Fatalf("failed to reimport: %v", err)
	}
	if reimported.GetFingerprint() != key.GetFingerprint() {
		t.Errorf("fingerprint mismatch: want %s, got %s", key.GetFingerprint(), reimported.GetFingerprint())
	}
	unlocked, err := reimported.IsUnlocked()
	if err != nil || !unlocked {
		t.Errorf("want reimported key unlocked, got unlocked=%v err=%v", unlocked, err)
	}

	// 再エクスポートしてもバイト列が変わらない
	again, err := reimported.Serialize()
	if err != nil {
		t.Fatalf("failed to serialize: %v", err)
	}
	if !bytes.Equal(again, data) {
		t.Error("want canonical export to be stable")
	}
}

func TestPGPProvider_UnlockPrivateKey_WrongPassphrase(t *testing.T) {
	p := NewPGPProvider()
	_, armored := generateLockedKey(t, "alice@example.com", []byte("correct horse"))

	if _, err := p.UnlockPrivateKey(armored, []byte("wrong")); err == nil {
		t.Error("want error for wrong passphrase")
	}
}

func TestPGPProvider_UnlockPrivateKey_Malformed(t *testing.T) {
	p := NewPGPProvider()

	if _, err := p.UnlockPrivateKey("not a key", []byte("x")); err == nil {
		t.Error("want error for malformed key")
	}
}

func TestPGPProvider_DecryptToken(t *testing.T) {
	p := NewPGPProvider()
	userKey, err := crypto.GenerateKey("user", "user@example.com", "x25519", 0)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	userData, err := userKey.Serialize()
	if err != nil {
		t.Fatalf("failed to serialize: %v", err)
	}
	ring := []domain.PrivateKey{{Data: userData, Primary: true}}

	token, sig := encryptToken(t, userKey, []byte("address key passphrase"))

	pass, err := p.DecryptToken(token, sig, ring)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(pass) != "address key passphrase" {
		t.Errorf("want passphrase, got %q", pass)
	}
}

func TestPGPProvider_DecryptToken_BadSignature(t *testing.T) {
	p := NewPGPProvider()
	userKey, _ := crypto.GenerateKey("user", "user@example.com", "x25519", 0)
	otherKey, _ := crypto.GenerateKey("other", "other@example.com", "x25519", 0)
	userData, _ := userKey.Serialize()
	ring := []domain.PrivateKey{{Data: userData, Primary: true}}

	token, _ := encryptToken(t, userKey, []byte("secret"))
	// 別の鍵による署名
	_, foreignSig := encryptToken(t, otherKey, []byte("secret"))

	if _, err := p.DecryptToken(token, foreignSig, ring); err == nil {
		t.Error("want error for signature from a foreign key")
	}
}

func TestPGPProvider_DecryptToken_EmptyRing(t *testing.T) {
	p := NewPGPProvider()

	if _, err := p.DecryptToken("token", "sig", nil); err == nil {
		t.Error("want error for empty ring")
	}
}

func TestPGPProvider_ImportPublicKey(t *testing.T) {
	p := NewPGPProvider()
	key, err := crypto.GenerateKey("bob", "bob@example.com", "x25519", 0)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	armoredPub, err := key.GetArmoredPublicKey()
	if err != nil {
		t.Fatalf("failed to armor public key: %v", err)
	}

	data, err := p.ImportPublicKey(armoredPub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fp, err := p.Fingerprint(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fp != key.GetFingerprint() {
		t.Errorf("fingerprint mismatch: want %s, got %s", key.GetFingerprint(), fp)
	}

	pub, err := crypto.NewKey(data)
	if err != nil {
		t.Fatalf("failed to reimport: %v", err)
	}
	if pub.IsPrivate() {
		t.Error("want public key only")
	}

	armored, err := p.ArmorPublicKey(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if armored == "" {
		t.Error("want armored public key")
	}
}
