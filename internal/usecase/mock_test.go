package usecase

import (
	"context"
	"errors"
	"strings"

	"address-key-service/internal/domain"
	"address-key-service/internal/repository"
)

// mockAddressDirectory はテスト用のモックディレクトリ。
type mockAddressDirectory struct {
	addresses        []domain.AddressRecord
	addressesErr     error
	addressErr       error
	getAddressesCall int
	getAddressCall   int
}

func (m *mockAddressDirectory) GetAddresses(ctx context.Context) ([]domain.AddressRecord, error) {
	m.getAddressesCall++
	return m.addresses, m.addressesErr
}

func (m *mockAddressDirectory) GetAddress(ctx context.Context, id domain.AddressID) (*domain.AddressRecord, error) {
	m.getAddressCall++
	if m.addressErr != nil {
		return nil, m.addressErr
	}
	for i := range m.addresses {
		if m.addresses[i].ID == id {
			rec := m.addresses[i]
			return &rec, nil
		}
	}
	return nil, domain.ErrAddressNotFound
}

// mockPublicKeyDirectory はテスト用の公開鍵ディレクトリ。
type mockPublicKeyDirectory struct {
	keys  map[string][]domain.PublicKeyRecord
	err   error
	calls int
}

func (m *mockPublicKeyDirectory) GetActivePublicKeys(ctx context.Context, email string) ([]domain.PublicKeyRecord, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	recs, ok := m.keys[email]
	if !ok {
		return nil, domain.ErrAddressUnknown
	}
	return recs, nil
}

// mockUserDirectory はテスト用のユーザーディレクトリ。
type mockUserDirectory struct {
	user  *domain.UserRecord
	err   error
	calls int
}

func (m *mockUserDirectory) GetUser(ctx context.Context) (*domain.UserRecord, error) {
	m.calls++
	return m.user, m.err
}

// mockUserKeyRing はテスト用のユーザー鍵リング。
type mockUserKeyRing struct {
	keys  []domain.PrivateKey
	err   error
	calls int
}

func (m *mockUserKeyRing) Keys(ctx context.Context) ([]domain.PrivateKey, error) {
	m.calls++
	return m.keys, m.err
}

func newMockUserKeyRing() *mockUserKeyRing {
	return &mockUserKeyRing{keys: []domain.PrivateKey{{Data: []byte("user-key"), Primary: true}}}
}

// fakeCrypto は "locked:<passphrase>:<name>" 形式の鍵を "key:<name>" に解錠するテスト用プロバイダ。
// トークンは "token:<passphrase>"、署名は "sig:valid" のみ受け付ける。
type fakeCrypto struct{}

func (fakeCrypto) UnlockPrivateKey(armored string, passphrase []byte) ([]byte, error) {
	parts := strings.SplitN(armored, ":", 3)
	if len(parts) != 3 || parts[0] != "locked" {
		return nil, errors.New("malformed key")
	}
	if parts[1] != string(passphrase) {
		return nil, errors.New("wrong passphrase")
	}
	return []byte("key:" + parts[2]), nil
}

func (fakeCrypto) DecryptToken(token, signature string, ring []domain.PrivateKey) ([]byte, error) {
	if len(ring) == 0 {
		return nil, errors.New("empty key ring")
	}
	if signature != "sig:valid" {
		return nil, errors.New("signature verification failed")
	}
	return []byte(strings.TrimPrefix(token, "token:")), nil
}

func (fakeCrypto) ImportPublicKey(armored string) ([]byte, error) {
	if strings.HasPrefix(armored, "garbage") {
		return nil, errors.New("malformed public key")
	}
	return []byte("pub:" + armored), nil
}

// tokenKey はトークン方式で解錠できる鍵レコードを返す。
func tokenKey(id string, primary bool) domain.AddressKeyRecord {
	return domain.AddressKeyRecord{
		ID:         domain.AddressKeyID(id),
		PrivateKey: "locked:pass-" + id + ":" + id,
		Token:      "token:pass-" + id,
		Signature:  "sig:valid",
		Active:     true,
		Primary:    primary,
		Flags:      domain.KeyFlagNotCompromised | domain.KeyFlagNotObsolete,
	}
}

// legacyKey はトークンを持たないレガシー鍵レコードを返す。
func legacyKey(id string, primary bool) domain.AddressKeyRecord {
	return domain.AddressKeyRecord{
		ID:         domain.AddressKeyID(id),
		PrivateKey: "locked:legacy-" + id + ":" + id,
		Active:     true,
		Primary:    primary,
		Flags:      domain.KeyFlagNotCompromised | domain.KeyFlagNotObsolete,
	}
}

// droppingCache はグループの書き込みを捨てるキャッシュ。再解決後もミスが続く状況を作る。
type droppingCache struct {
	*repository.MemoryCache
}

func (c droppingCache) IncludeInGroup(ctx context.Context, group domain.CacheKey, members []domain.CacheKey) error {
	return nil
}

// failingCache はすべての操作でエラーを返すキャッシュ。
type failingCache struct {
	err error
}

func (c failingCache) Get(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, error) {
	return nil, c.err
}

func (c failingCache) Set(ctx context.Context, key domain.CacheKey, entry domain.CacheEntry) error {
	return c.err
}

func (c failingCache) IncludeInGroup(ctx context.Context, group domain.CacheKey, members []domain.CacheKey) error {
	return c.err
}

func (c failingCache) GroupMembers(ctx context.Context, group domain.CacheKey) ([]domain.CacheKey, bool, error) {
	return nil, false, c.err
}

func (c failingCache) InvalidateGroup(ctx context.Context, group domain.CacheKey) error {
	return c.err
}
