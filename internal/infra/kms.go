package infra

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// cacheAAD はキャッシュエントリ暗号化の追加認証データ。
var cacheAAD = []byte("address-key-service/secret-cache")

var crc32c = crc32.MakeTable(crc32.Castagnoli)

// KMSClient はCloud KMSクライアントをラップし、キャッシュエントリを封印する。
type KMSClient struct {
	client  *kms.KeyManagementClient
	keyName string
}

// NewKMSClient は指定された鍵名でKMSClientを生成する。
func NewKMSClient(ctx context.Context, keyName string) (*KMSClient, error) {
	if keyName == "" {
		return nil, errors.New("KMS key name is required")
	}

	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}

	return &KMSClient{
		client:  client,
		keyName: keyName,
	}, nil
}

// Encrypt は平文をCloud KMSで暗号化する。CRC32Cで転送中の破損を検出する。
func (c *KMSClient) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	req := &kmspb.EncryptRequest{
		Name:                              c.keyName,
		Plaintext:                         plaintext,
		PlaintextCrc32C:                   wrapperspb.Int64(checksum(plaintext)),
		AdditionalAuthenticatedData:       cacheAAD,
		AdditionalAuthenticatedDataCrc32C: wrapperspb.Int64(checksum(cacheAAD)),
	}
	resp, err := c.client.Encrypt(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	if !resp.VerifiedPlaintextCrc32C || !resp.VerifiedAdditionalAuthenticatedDataCrc32C {
		return nil, errors.New("encrypting: request corrupted in-transit")
	}
	if resp.CiphertextCrc32C.GetValue() != checksum(resp.Ciphertext) {
		return nil, errors.New("encrypting: response corrupted in-transit")
	}
	return resp.Ciphertext, nil
}

// Decrypt は暗号文をCloud KMSで復号する。
func (c *KMSClient) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	req := &kmspb.DecryptRequest{
		Name:                              c.keyName,
		Ciphertext:                        ciphertext,
		CiphertextCrc32C:                  wrapperspb.Int64(checksum(ciphertext)),
		AdditionalAuthenticatedData:       cacheAAD,
		AdditionalAuthenticatedDataCrc32C: wrapperspb.Int64(checksum(cacheAAD)),
	}
	resp, err := c.client.Decrypt(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	if resp.PlaintextCrc32C.GetValue() != checksum(resp.Plaintext) {
		return nil, errors.New("decrypting: response corrupted in-transit")
	}
	return resp.Plaintext, nil
}

// Close はKMSクライアントを閉じる。
func (c *KMSClient) Close() error {
	return c.client.Close()
}

func checksum(data []byte) int64 {
	return int64(crc32.Checksum(data, crc32c))
}
