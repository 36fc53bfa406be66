// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "fmt"

// AddressID はアドレスの不透明な識別子。
type AddressID string

// AddressKeyID はアドレス鍵の不透明な識別子。
type AddressKeyID string

// AddressStatus はアドレスの状態を表す。
type AddressStatus int

const (
	// AddressStatusDisabled は無効化されたアドレス。
	AddressStatusDisabled AddressStatus = iota
	// AddressStatusEnabled は有効なアドレス。
	AddressStatusEnabled
	// AddressStatusDeleting は削除中のアドレス。
	AddressStatusDeleting
)

// String はステータスの表示名を返す。
func (s AddressStatus) String() string {
	switch s {
	case AddressStatusDisabled:
		return "disabled"
	case AddressStatusEnabled:
		return "enabled"
	case AddressStatusDeleting:
		return "deleting"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// AddressKey はアドレスに属する解錠済みの鍵を表す。
// 非アクティブな鍵や解錠できなかった鍵からは生成されない。
type AddressKey struct {
	AddressID  AddressID
	KeyID      AddressKeyID
	CanEncrypt bool
	Primary    bool
}

// SkippedKey は解決時にスキップされた鍵とその理由。
type SkippedKey struct {
	KeyID  AddressKeyID
	Reason error
}

// Address はメールアドレスと利用可能な鍵の集合を表す。
type Address struct {
	ID           AddressID
	Order        int
	Email        string
	Status       AddressStatus
	Keys         []AddressKey
	PrimaryIndex int

	// Skipped は解決中に除外された鍵。診断用でキャッシュには含まれない。
	Skipped []SkippedKey
}

// NewAddress はAddressを生成する。keysが空、またはprimaryIndexが範囲外の場合はエラー。
func NewAddress(id AddressID, order int, email string, status AddressStatus, keys []AddressKey, primaryIndex int) (*Address, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyAddress, id)
	}
	if primaryIndex < 0 || primaryIndex >= len(keys) {
		return nil, fmt.Errorf("%w: %s index %d of %d", ErrPrimaryIndexOutOfRange, id, primaryIndex, len(keys))
	}
	return &Address{
		ID:           id,
		Order:        order,
		Email:        email,
		Status:       status,
		Keys:         keys,
		PrimaryIndex: primaryIndex,
	}, nil
}

// PrimaryKey はプライマリ鍵を返す。
func (a *Address) PrimaryKey() AddressKey {
	return a.Keys[a.PrimaryIndex]
}

// AddressFailure は「全アドレス解決」で除外されたアドレスとその理由。
type AddressFailure struct {
	AddressID AddressID
	Email     string
	Reason    error
}

// SelectorKind はアドレスの選択方法。
type SelectorKind int

const (
	SelectByID SelectorKind = iota
	SelectAllAddresses
	SelectDefaultAddress
)

// AddressSelector は解決対象のアドレスを指定する。
type AddressSelector struct {
	Kind SelectorKind
	ID   AddressID
}

// SelectAddress はID指定のセレクタを返す。
func SelectAddress(id AddressID) AddressSelector {
	return AddressSelector{Kind: SelectByID, ID: id}
}

// SelectAll は全アドレスのセレクタを返す。
func SelectAll() AddressSelector {
	return AddressSelector{Kind: SelectAllAddresses}
}

// SelectDefault はデフォルトアドレス（Orderが最小）のセレクタを返す。
func SelectDefault() AddressSelector {
	return AddressSelector{Kind: SelectDefaultAddress}
}
