package usecase

import (
	"context"
	"errors"
	"testing"

	"address-key-service/internal/domain"
	"address-key-service/internal/repository"
)

func TestPublicKeyResolver_Resolve_FiltersAndCaches(t *testing.T) {
	dir := &mockPublicKeyDirectory{keys: map[string][]domain.PublicKeyRecord{
		"bob@example.com": {
			{PublicKey: "p1", Flags: domain.KeyFlagNotCompromised | domain.KeyFlagNotObsolete},
			{PublicKey: "p2", Flags: domain.KeyFlagNotObsolete},
			{PublicKey: "p3", Flags: domain.KeyFlagNotCompromised},
		},
	}}
	cache := repository.NewMemoryCache()
	r := NewPublicKeyResolver(dir, cache, fakeCrypto{})
	ctx := context.Background()

	keys, err := r.Resolve(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("want 2 keys, got %d", len(keys))
	}
	if string(keys[0].Data) != "pub:p1" || string(keys[1].Data) != "pub:p3" {
		t.Errorf("unexpected keys: %+v", keys)
	}
	if keys[1].Flags != domain.KeyFlagNotCompromised {
		t.Errorf("want flags kept, got %d", keys[1].Flags)
	}

	// 2回目はディレクトリを呼ばない
	again, err := r.Resolve(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir.calls != 1 {
		t.Errorf("want 1 directory call, got %d", dir.calls)
	}
	if len(again) != 2 || string(again[1].Data) != "pub:p3" || again[1].Flags != domain.KeyFlagNotCompromised {
		t.Errorf("want cached keys identical, got %+v", again)
	}

	// 序数は残った鍵の位置
	entry, _ := cache.Get(ctx, domain.PublicKeyEntry("bob@example.com", 1))
	if entry == nil || string(entry.Data) != "pub:p3" {
		t.Errorf("unexpected entry at ordinal 1: %+v", entry)
	}
}

func TestPublicKeyResolver_Resolve_UnknownAddressIsCachedEmpty(t *testing.T) {
	dir := &mockPublicKeyDirectory{}
	r := NewPublicKeyResolver(dir, repository.NewMemoryCache(), fakeCrypto{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		keys, err := r.Resolve(ctx, "nobody@example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if keys == nil || len(keys) != 0 {
			t.Errorf("want empty non-nil result, got %#v", keys)
		}
	}
	if dir.calls != 1 {
		t.Errorf("want 1 directory call, got %d", dir.calls)
	}
}

func TestPublicKeyResolver_Resolve_DirectoryErrorNotCached(t *testing.T) {
	dirErr := errors.New("directory unavailable")
	dir := &mockPublicKeyDirectory{err: dirErr}
	r := NewPublicKeyResolver(dir, repository.NewMemoryCache(), fakeCrypto{})
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "bob@example.com"); !errors.Is(err, dirErr) {
		t.Errorf("want directory error, got %v", err)
	}
	r.Resolve(ctx, "bob@example.com")
	if dir.calls != 2 {
		t.Errorf("want failure not cached, got %d calls", dir.calls)
	}
}

func TestPublicKeyResolver_Resolve_SkipsUnimportableKey(t *testing.T) {
	dir := &mockPublicKeyDirectory{keys: map[string][]domain.PublicKeyRecord{
		"bob@example.com": {
			{PublicKey: "garbage", Flags: domain.KeyFlagNotCompromised},
			{PublicKey: "p1", Flags: domain.KeyFlagNotCompromised},
		},
	}}
	cache := repository.NewMemoryCache()
	r := NewPublicKeyResolver(dir, cache, fakeCrypto{})
	ctx := context.Background()

	keys, err := r.Resolve(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 || string(keys[0].Data) != "pub:p1" {
		t.Errorf("unexpected keys: %+v", keys)
	}
	if entry, _ := cache.Get(ctx, domain.PublicKeyEntry("bob@example.com", 0)); entry == nil || string(entry.Data) != "pub:p1" {
		t.Errorf("want surviving key at ordinal 0, got %+v", entry)
	}
}

func TestPublicKeyResolver_Resolve_NormalizesEmail(t *testing.T) {
	dir := &mockPublicKeyDirectory{keys: map[string][]domain.PublicKeyRecord{
		"bob@example.com": {{PublicKey: "p1", Flags: domain.KeyFlagNotCompromised}},
	}}
	r := NewPublicKeyResolver(dir, repository.NewMemoryCache(), fakeCrypto{})
	ctx := context.Background()

	if _, err := r.Resolve(ctx, " Bob@Example.COM "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Resolve(ctx, "bob@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir.calls != 1 {
		t.Errorf("want shared cache entry, got %d calls", dir.calls)
	}
}

func TestPublicKeyResolver_Invalidate(t *testing.T) {
	dir := &mockPublicKeyDirectory{keys: map[string][]domain.PublicKeyRecord{
		"bob@example.com": {{PublicKey: "p1", Flags: domain.KeyFlagNotCompromised}},
	}}
	r := NewPublicKeyResolver(dir, repository.NewMemoryCache(), fakeCrypto{})
	ctx := context.Background()

	r.Resolve(ctx, "bob@example.com")
	if err := r.Invalidate(ctx, "BOB@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Resolve(ctx, "bob@example.com")
	if dir.calls != 2 {
		t.Errorf("want re-fetch after invalidate, got %d calls", dir.calls)
	}
}
