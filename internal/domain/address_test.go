package domain

import (
	"errors"
	"testing"
)

func TestNewAddress(t *testing.T) {
	keys := []AddressKey{
		{AddressID: "a1", KeyID: "k1"},
		{AddressID: "a1", KeyID: "k2", Primary: true},
	}

	tests := []struct {
		name    string
		keys    []AddressKey
		primary int
		wantErr error
	}{
		{"valid", keys, 1, nil},
		{"no keys", nil, 0, ErrEmptyAddress},
		{"index past end", keys, 2, ErrPrimaryIndexOutOfRange},
		{"negative index", keys, -1, ErrPrimaryIndexOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := NewAddress("a1", 1, "alice@example.com", AddressStatusEnabled, tt.keys, tt.primary)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("want error %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && addr.PrimaryKey().KeyID != "k2" {
				t.Errorf("want primary k2, got %s", addr.PrimaryKey().KeyID)
			}
		})
	}
}

func TestCacheKeys(t *testing.T) {
	tests := []struct {
		got  CacheKey
		want string
	}{
		{AddressKeysGroup("a1"), "address/a1/keys"},
		{AddressKeyEntry("k1"), "address-key/k1/data"},
		{LegacyPassphraseEntry("k1"), "address-key/k1/passphrase"},
		{PublicKeysGroup("bob@example.com"), "address/bob@example.com/public-keys"},
		{PublicKeyEntry("bob@example.com", 2), "address-public-key/bob@example.com(2)/address-public-key"},
		{UserKeysGroup("u1"), "user/u1/keys"},
		{UserKeyEntry("uk1"), "user-key/uk1/data"},
	}
	for _, tt := range tests {
		if tt.got.String() != tt.want {
			t.Errorf("want %s, got %s", tt.want, tt.got.String())
		}
	}

	if AddressKeyEntry("k1") == LegacyPassphraseEntry("k1") {
		t.Error("want keys differing in one component to be distinct")
	}
}

func TestKeyFlags(t *testing.T) {
	both := KeyFlagNotCompromised | KeyFlagNotObsolete
	if !both.Has(KeyFlagNotCompromised) || !both.Has(KeyFlagNotObsolete) {
		t.Error("want both flags set")
	}
	if KeyFlags(0).Has(KeyFlagNotCompromised) {
		t.Error("want no flags set")
	}
}
