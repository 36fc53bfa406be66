package domain

import "fmt"

// CacheKey はシークレットキャッシュのアドレス（保持者種別, 識別子, 値の名前）。
// 3要素すべてが等しい場合に等価となる。
type CacheKey struct {
	Holder string
	ID     string
	Value  string
}

// String はログ用の表現を返す。
func (k CacheKey) String() string {
	return k.Holder + "/" + k.ID + "/" + k.Value
}

// CacheEntry はキャッシュされたシークレット。
type CacheEntry struct {
	Data []byte
	Tag  byte
}

// Tag値。
const (
	TagSecondary byte = 0
	TagPrimary   byte = 1
)

// AddressKeysGroup はアドレスの秘密鍵グループのキーを返す。
func AddressKeysGroup(id AddressID) CacheKey {
	return CacheKey{Holder: "address", ID: string(id), Value: "keys"}
}

// AddressKeyEntry は秘密鍵1件のキーを返す。
func AddressKeyEntry(id AddressKeyID) CacheKey {
	return CacheKey{Holder: "address-key", ID: string(id), Value: "data"}
}

// LegacyPassphraseEntry はレガシーパスフレーズのキーを返す。
func LegacyPassphraseEntry(id AddressKeyID) CacheKey {
	return CacheKey{Holder: "address-key", ID: string(id), Value: "passphrase"}
}

// PublicKeysGroup は宛先の公開鍵グループのキーを返す。
func PublicKeysGroup(email string) CacheKey {
	return CacheKey{Holder: "address", ID: email, Value: "public-keys"}
}

// PublicKeyEntry は公開鍵1件のキーを返す。
func PublicKeyEntry(email string, ordinal int) CacheKey {
	return CacheKey{
		Holder: "address-public-key",
		ID:     fmt.Sprintf("%s(%d)", email, ordinal),
		Value:  "address-public-key",
	}
}

// UserKeysGroup はユーザー鍵グループのキーを返す。
func UserKeysGroup(userID string) CacheKey {
	return CacheKey{Holder: "user", ID: userID, Value: "keys"}
}

// UserKeyEntry はユーザー鍵1件のキーを返す。
func UserKeyEntry(keyID string) CacheKey {
	return CacheKey{Holder: "user-key", ID: keyID, Value: "data"}
}
