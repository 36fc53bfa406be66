package domain

// KeyFlags はディレクトリが鍵に付与するフラグのビットフィールド。
type KeyFlags uint8

const (
	// KeyFlagNotCompromised は鍵が漏洩していないことを表す。検証に使用可能。
	KeyFlagNotCompromised KeyFlags = 1 << 0
	// KeyFlagNotObsolete は鍵が廃止されていないことを表す。暗号化に使用可能。
	KeyFlagNotObsolete KeyFlags = 1 << 1
)

// Has は指定フラグがすべて立っているかを返す。
func (f KeyFlags) Has(flag KeyFlags) bool {
	return f&flag == flag
}

// PrivateKey は解錠済み秘密鍵のエクスポート形式を表す。
type PrivateKey struct {
	Data    []byte // 暗号プロバイダが再インポート可能なバイナリ形式
	Primary bool
}

// PublicKey は公開鍵のエクスポート形式を表す。
type PublicKey struct {
	Data  []byte
	Flags KeyFlags
}

// UserKeyRecord はディレクトリが返すユーザー鍵。
type UserKeyRecord struct {
	ID         string
	PrivateKey string
	Active     bool
	Primary    bool
}

// UserRecord はディレクトリが返すユーザー。
type UserRecord struct {
	ID   string
	Name string
	Keys []UserKeyRecord
}

// AddressKeyRecord はディレクトリが返すアドレス鍵。
// TokenとSignatureが両方ある場合はトークン方式、それ以外はレガシー方式で解錠する。
type AddressKeyRecord struct {
	ID         AddressKeyID
	PrivateKey string
	Token      string
	Signature  string
	Active     bool
	Primary    bool
	Flags      KeyFlags
}

// AddressRecord はディレクトリが返すアドレス。
type AddressRecord struct {
	ID     AddressID
	Order  int
	Email  string
	Status AddressStatus
	Keys   []AddressKeyRecord
}

// PublicKeyRecord はディレクトリが返す公開鍵。
type PublicKeyRecord struct {
	PublicKey string
	Flags     KeyFlags
}
