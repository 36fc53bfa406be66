package domain

import "errors"

var (
	// ErrNoAddressAvailable はデフォルトアドレスの解決時にアドレスが1件もない場合のエラー。
	ErrNoAddressAvailable = errors.New("no address available")

	// ErrNoPrimaryKey は解錠できた鍵にプライマリ鍵が含まれない場合のエラー。
	ErrNoPrimaryKey = errors.New("address has no primary key")

	// ErrAddressKeysUnavailable は再解決後もキャッシュからアドレス鍵を取得できない場合のエラー。
	ErrAddressKeysUnavailable = errors.New("could not get address keys")

	// ErrAddressNotFound はディレクトリにアドレスが存在しない場合のエラー。
	ErrAddressNotFound = errors.New("address not found")

	// ErrAddressUnknown はディレクトリが宛先アドレスを知らない場合のエラー（外部アドレスを含む）。
	ErrAddressUnknown = errors.New("address unknown")

	// ErrEmptyAddress は鍵を持たないAddressを生成しようとした場合のエラー。
	ErrEmptyAddress = errors.New("address has no keys")

	// ErrPrimaryIndexOutOfRange はプライマリ鍵の位置が鍵リストの範囲外の場合のエラー。
	ErrPrimaryIndexOutOfRange = errors.New("primary key index out of range")

	// ErrNoUserKeys はユーザー鍵を1件も解錠できない場合のエラー。
	ErrNoUserKeys = errors.New("no user keys could be unlocked")

	// ErrUserKeysUnavailable は呼び出し元自身の鍵を取得できない場合のエラー。
	// 鍵単位のスキップではなく、解決全体を中断する。
	ErrUserKeysUnavailable = errors.New("user keys unavailable")

	// ErrKeyInactive は鍵がアクティブでない場合のスキップ理由。
	ErrKeyInactive = errors.New("key is not active")

	// ErrPassphraseUnavailable はレガシーパスフレーズがキャッシュにない場合のスキップ理由。
	ErrPassphraseUnavailable = errors.New("passphrase unavailable")

	// ErrInvalidAddressID はアドレスIDの形式が不正な場合のエラー。
	ErrInvalidAddressID = errors.New("invalid address ID")

	// ErrInvalidEmail はメールアドレスの形式が不正な場合のエラー。
	ErrInvalidEmail = errors.New("invalid email address")
)
