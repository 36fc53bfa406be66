package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"address-key-service/internal/domain"
)

// ディレクトリAPIのレスポンスコード。
const (
	codeSuccess         = 1000
	codeUnknownAddress  = 33102
	codeUnknownExternal = 33103
)

// DirectoryClient はディレクトリAPIのHTTPクライアント。
type DirectoryClient struct {
	baseURL     string
	uid         string
	accessToken string
	client      *http.Client
}

// NewDirectoryClient は新しいDirectoryClientを生成する。
func NewDirectoryClient(baseURL, uid, accessToken string, timeout time.Duration) *DirectoryClient {
	return &DirectoryClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		uid:         uid,
		accessToken: accessToken,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// APIError はディレクトリAPIのエラーレスポンス。
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("directory API error: status %d code %d: %s", e.Status, e.Code, e.Message)
}

type envelope struct {
	Code  int    `json:"Code"`
	Error string `json:"Error,omitempty"`
}

type userKeyDTO struct {
	ID         string `json:"ID"`
	PrivateKey string `json:"PrivateKey"`
	Primary    int    `json:"Primary"`
	Active     int    `json:"Active"`
}

type userDTO struct {
	ID   string       `json:"ID"`
	Name string       `json:"Name"`
	Keys []userKeyDTO `json:"Keys"`
}

type addressKeyDTO struct {
	ID         string  `json:"ID"`
	PrivateKey string  `json:"PrivateKey"`
	Token      *string `json:"Token"`
	Signature  *string `json:"Signature"`
	Primary    int     `json:"Primary"`
	Active     int     `json:"Active"`
	Flags      int     `json:"Flags"`
}

type addressDTO struct {
	ID     string          `json:"ID"`
	Email  string          `json:"Email"`
	Status int             `json:"Status"`
	Order  int             `json:"Order"`
	Keys   []addressKeyDTO `json:"Keys"`
}

type publicKeyDTO struct {
	PublicKey string `json:"PublicKey"`
	Flags     int    `json:"Flags"`
}

// keyFlags は既知のビットだけを残す。
func keyFlags(v int) domain.KeyFlags {
	return domain.KeyFlags(v) & (domain.KeyFlagNotCompromised | domain.KeyFlagNotObsolete)
}

func (d *addressDTO) toDomain() domain.AddressRecord {
	keys := make([]domain.AddressKeyRecord, len(d.Keys))
	for i, k := range d.Keys {
		keys[i] = domain.AddressKeyRecord{
			ID:         domain.AddressKeyID(k.ID),
			PrivateKey: k.PrivateKey,
			Token:      deref(k.Token),
			Signature:  deref(k.Signature),
			Active:     k.Active == 1,
			Primary:    k.Primary == 1,
			Flags:      keyFlags(k.Flags),
		}
	}
	return domain.AddressRecord{
		ID:     domain.AddressID(d.ID),
		Order:  d.Order,
		Email:  d.Email,
		Status: domain.AddressStatus(d.Status),
		Keys:   keys,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// GetUser はログイン中のユーザーと鍵を取得する。
func (c *DirectoryClient) GetUser(ctx context.Context) (*domain.UserRecord, error) {
	var resp struct {
		User userDTO `json:"User"`
	}
	if err := c.get(ctx, "/core/v4/users", nil, &resp); err != nil {
		return nil, err
	}

	keys := make([]domain.UserKeyRecord, len(resp.User.Keys))
	for i, k := range resp.User.Keys {
		keys[i] = domain.UserKeyRecord{
			ID:         k.ID,
			PrivateKey: k.PrivateKey,
			Active:     k.Active == 1,
			Primary:    k.Primary == 1,
		}
	}
	return &domain.UserRecord{ID: resp.User.ID, Name: resp.User.Name, Keys: keys}, nil
}

// GetAddresses は全アドレスを取得する。
func (c *DirectoryClient) GetAddresses(ctx context.Context) ([]domain.AddressRecord, error) {
	var resp struct {
		Addresses []addressDTO `json:"Addresses"`
	}
	if err := c.get(ctx, "/core/v4/addresses", nil, &resp); err != nil {
		return nil, err
	}

	records := make([]domain.AddressRecord, len(resp.Addresses))
	for i := range resp.Addresses {
		records[i] = resp.Addresses[i].toDomain()
	}
	return records, nil
}

// GetAddress は指定されたアドレスを取得する。
func (c *DirectoryClient) GetAddress(ctx context.Context, id domain.AddressID) (*domain.AddressRecord, error) {
	var resp struct {
		Address addressDTO `json:"Address"`
	}
	err := c.get(ctx, "/core/v4/addresses/"+url.PathEscape(string(id)), nil, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", domain.ErrAddressNotFound, id)
		}
		return nil, err
	}

	rec := resp.Address.toDomain()
	return &rec, nil
}

// GetActivePublicKeys は宛先の有効な公開鍵を取得する。
func (c *DirectoryClient) GetActivePublicKeys(ctx context.Context, email string) ([]domain.PublicKeyRecord, error) {
	var resp struct {
		Keys []publicKeyDTO `json:"Keys"`
	}
	err := c.get(ctx, "/core/v4/keys", url.Values{"Email": {email}}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Code == codeUnknownAddress || apiErr.Code == codeUnknownExternal) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAddressUnknown, email)
		}
		return nil, err
	}

	records := make([]domain.PublicKeyRecord, len(resp.Keys))
	for i, k := range resp.Keys {
		records[i] = domain.PublicKeyRecord{PublicKey: k.PublicKey, Flags: keyFlags(k.Flags)}
	}
	return records, nil
}

func (c *DirectoryClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.uid != "" {
		req.Header.Set("x-pm-uid", c.uid)
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("parsing response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || env.Code != codeSuccess {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Error}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
