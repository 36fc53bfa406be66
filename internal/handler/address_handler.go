// Package handler はHTTPハンドラを提供する。
package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"

	"github.com/go-chi/chi/v5"

	"address-key-service/internal/domain"
	"address-key-service/internal/middleware"
	"address-key-service/internal/usecase"
	"address-key-service/pkg/httputil"
)

var (
	addressIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_=-]+$`)
	emailRegex     = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)
)

// KeyInspector は鍵の公開情報を取り出すインターフェース。
type KeyInspector interface {
	Fingerprint(data []byte) (string, error)
	ArmorPublicKey(data []byte) (string, error)
}

// AddressHandler はアドレス・鍵のHTTPハンドラを提供する。
type AddressHandler struct {
	addresses  *usecase.AddressKeyResolver
	publicKeys *usecase.PublicKeyResolver
	inspector  KeyInspector
}

// NewAddressHandler は新しいAddressHandlerを生成する。
func NewAddressHandler(addresses *usecase.AddressKeyResolver, publicKeys *usecase.PublicKeyResolver, inspector KeyInspector) *AddressHandler {
	return &AddressHandler{
		addresses:  addresses,
		publicKeys: publicKeys,
		inspector:  inspector,
	}
}

func validateAddressID(id string) (domain.AddressID, error) {
	if id == "" || len(id) > 128 || !addressIDRegex.MatchString(id) {
		return "", domain.ErrInvalidAddressID
	}
	return domain.AddressID(id), nil
}

func validateEmail(raw string) (string, error) {
	email, err := url.PathUnescape(raw)
	if err != nil || len(email) > 254 || !emailRegex.MatchString(email) {
		return "", domain.ErrInvalidEmail
	}
	return email, nil
}

// AddressKeyResponse は鍵メタデータのレスポンス形式。
type AddressKeyResponse struct {
	KeyID      string `json:"key_id"`
	Primary    bool   `json:"primary"`
	CanEncrypt bool   `json:"can_encrypt"`
}

// SkippedKeyResponse はスキップされた鍵のレスポンス形式。
type SkippedKeyResponse struct {
	KeyID  string `json:"key_id"`
	Reason string `json:"reason"`
}

// AddressResponse はアドレスのレスポンス形式。
type AddressResponse struct {
	ID           string               `json:"id"`
	Email        string               `json:"email"`
	Order        int                  `json:"order"`
	Status       string               `json:"status"`
	PrimaryKeyID string               `json:"primary_key_id"`
	Keys         []AddressKeyResponse `json:"keys"`
	Skipped      []SkippedKeyResponse `json:"skipped,omitempty"`
}

// AddressFailureResponse は解決できなかったアドレスのレスポンス形式。
type AddressFailureResponse struct {
	AddressID string `json:"address_id"`
	Email     string `json:"email"`
	Reason    string `json:"reason"`
}

// AddressListResponse はアドレス一覧のレスポンス形式。
type AddressListResponse struct {
	Addresses []AddressResponse        `json:"addresses"`
	Failures  []AddressFailureResponse `json:"failures,omitempty"`
}

// KeyResponse は解錠済み鍵の公開情報のレスポンス形式。
type KeyResponse struct {
	Fingerprint string `json:"fingerprint"`
	Primary     bool   `json:"primary"`
}

// KeyListResponse は鍵一覧のレスポンス形式。
type KeyListResponse struct {
	AddressID string        `json:"address_id"`
	Keys      []KeyResponse `json:"keys"`
}

// PublicKeyResponse は公開鍵のレスポンス形式。
type PublicKeyResponse struct {
	Fingerprint string `json:"fingerprint"`
	ArmoredKey  string `json:"armored_key"`
	Flags       uint8  `json:"flags"`
	CanEncrypt  bool   `json:"can_encrypt"`
}

// PublicKeyListResponse は公開鍵一覧のレスポンス形式。
type PublicKeyListResponse struct {
	Email string              `json:"email"`
	Keys  []PublicKeyResponse `json:"keys"`
}

func toAddressResponse(a *domain.Address) AddressResponse {
	resp := AddressResponse{
		ID:           string(a.ID),
		Email:        a.Email,
		Order:        a.Order,
		Status:       a.Status.String(),
		PrimaryKeyID: string(a.PrimaryKey().KeyID),
		Keys:         make([]AddressKeyResponse, len(a.Keys)),
	}
	for i, k := range a.Keys {
		resp.Keys[i] = AddressKeyResponse{
			KeyID:      string(k.KeyID),
			Primary:    k.Primary,
			CanEncrypt: k.CanEncrypt,
		}
	}
	for _, s := range a.Skipped {
		resp.Skipped = append(resp.Skipped, SkippedKeyResponse{KeyID: string(s.KeyID), Reason: s.Reason.Error()})
	}
	return resp
}

// writeResolveError はドメインエラーをHTTPステータスに変換して返す。
func writeResolveError(ctx context.Context, w http.ResponseWriter, operation, subject string, err error) {
	middleware.WriteAuditLog(ctx, operation, subject, "FAILED")

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httputil.Error(w, http.StatusGatewayTimeout, "REQUEST_CANCELLED", "request cancelled")
	case errors.Is(err, domain.ErrAddressNotFound):
		httputil.Error(w, http.StatusNotFound, "ADDRESS_NOT_FOUND", "address not found")
	case errors.Is(err, domain.ErrNoAddressAvailable):
		httputil.Error(w, http.StatusNotFound, "NO_ADDRESS_AVAILABLE", "no address could be resolved")
	case errors.Is(err, domain.ErrNoPrimaryKey):
		httputil.Error(w, http.StatusUnprocessableEntity, "NO_PRIMARY_KEY", "address has no usable primary key")
	case errors.Is(err, domain.ErrUserKeysUnavailable):
		httputil.Error(w, http.StatusServiceUnavailable, "USER_KEYS_UNAVAILABLE", "could not get user keys")
	case errors.Is(err, domain.ErrAddressKeysUnavailable):
		httputil.Error(w, http.StatusServiceUnavailable, "KEYS_UNAVAILABLE", "could not get address keys")
	default:
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// ListAddresses は全アドレスを解決する。解決できなかったアドレスは failures に含める。
func (h *AddressHandler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	addrs, failures, err := h.addresses.ResolveAll(r.Context())
	if err != nil {
		writeResolveError(r.Context(), w, "LIST_ADDRESSES", "", err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "LIST_ADDRESSES", "", "SUCCESS")
	response := AddressListResponse{
		Addresses: make([]AddressResponse, len(addrs)),
	}
	for i, a := range addrs {
		response.Addresses[i] = toAddressResponse(a)
	}
	for _, f := range failures {
		response.Failures = append(response.Failures, AddressFailureResponse{
			AddressID: string(f.AddressID),
			Email:     f.Email,
			Reason:    f.Reason.Error(),
		})
	}
	httputil.JSON(w, http.StatusOK, response)
}

// GetDefaultAddress はデフォルトアドレスを返す。
func (h *AddressHandler) GetDefaultAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := h.addresses.ResolveDefault(r.Context())
	if err != nil {
		writeResolveError(r.Context(), w, "GET_DEFAULT_ADDRESS", "", err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "GET_DEFAULT_ADDRESS", string(addr.ID), "SUCCESS")
	httputil.JSON(w, http.StatusOK, toAddressResponse(addr))
}

// GetAddress は指定されたアドレスを解決する。
func (h *AddressHandler) GetAddress(w http.ResponseWriter, r *http.Request) {
	id, err := validateAddressID(chi.URLParam(r, "address_id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ADDRESS_ID", "invalid address ID format")
		return
	}

	addr, err := h.addresses.ResolveAddress(r.Context(), id)
	if err != nil {
		writeResolveError(r.Context(), w, "GET_ADDRESS", string(id), err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "GET_ADDRESS", string(id), "SUCCESS")
	httputil.JSON(w, http.StatusOK, toAddressResponse(addr))
}

// ListKeys はアドレスの解錠済み鍵のフィンガープリントを返す。
func (h *AddressHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	id, err := validateAddressID(chi.URLParam(r, "address_id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ADDRESS_ID", "invalid address ID format")
		return
	}

	keys, err := h.addresses.KeysForAddress(r.Context(), id)
	if err != nil {
		writeResolveError(r.Context(), w, "LIST_KEYS", string(id), err)
		return
	}

	response := KeyListResponse{
		AddressID: string(id),
		Keys:      make([]KeyResponse, len(keys)),
	}
	for i, k := range keys {
		fp, err := h.inspector.Fingerprint(k.Data)
		if err != nil {
			writeResolveError(r.Context(), w, "LIST_KEYS", string(id), err)
			return
		}
		response.Keys[i] = KeyResponse{Fingerprint: fp, Primary: k.Primary}
	}

	middleware.WriteAuditLog(r.Context(), "LIST_KEYS", string(id), "SUCCESS")
	httputil.JSON(w, http.StatusOK, response)
}

// InvalidateKeys はアドレスの鍵キャッシュを無効化する。
func (h *AddressHandler) InvalidateKeys(w http.ResponseWriter, r *http.Request) {
	id, err := validateAddressID(chi.URLParam(r, "address_id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ADDRESS_ID", "invalid address ID format")
		return
	}

	if err := h.addresses.InvalidateAddress(r.Context(), id); err != nil {
		writeResolveError(r.Context(), w, "INVALIDATE_KEYS", string(id), err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "INVALIDATE_KEYS", string(id), "SUCCESS")
	w.WriteHeader(http.StatusAccepted)
}

// GetPublicKeys は宛先の公開鍵を返す。
func (h *AddressHandler) GetPublicKeys(w http.ResponseWriter, r *http.Request) {
	email, err := validateEmail(chi.URLParam(r, "email"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_EMAIL", "invalid email format")
		return
	}

	keys, err := h.publicKeys.Resolve(r.Context(), email)
	if err != nil {
		writeResolveError(r.Context(), w, "GET_PUBLIC_KEYS", email, err)
		return
	}

	response := PublicKeyListResponse{
		Email: email,
		Keys:  make([]PublicKeyResponse, len(keys)),
	}
	for i, k := range keys {
		fp, err := h.inspector.Fingerprint(k.Data)
		if err != nil {
			writeResolveError(r.Context(), w, "GET_PUBLIC_KEYS", email, err)
			return
		}
		armored, err := h.inspector.ArmorPublicKey(k.Data)
		if err != nil {
			writeResolveError(r.Context(), w, "GET_PUBLIC_KEYS", email, err)
			return
		}
		response.Keys[i] = PublicKeyResponse{
			Fingerprint: fp,
			ArmoredKey:  armored,
			Flags:       uint8(k.Flags),
			CanEncrypt:  k.Flags.Has(domain.KeyFlagNotObsolete),
		}
	}

	middleware.WriteAuditLog(r.Context(), "GET_PUBLIC_KEYS", email, "SUCCESS")
	httputil.JSON(w, http.StatusOK, response)
}
