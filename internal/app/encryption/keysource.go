package encryption

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// KeySource supplies the AES key.
type KeySource interface {
	Key() ([]byte, error)
}

// StaticKey wraps a key held in memory, typically parsed from config.
type StaticKey []byte

func (k StaticKey) Key() ([]byte, error) { return k, nil }

// secretsClient captures the subset of the Key Vault client used here.
type secretsClient interface {
	GetSecret(ctx context.Context, name, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// KeyVaultSource fetches a base64-encoded key from an Azure Key Vault
// secret and caches it for the process lifetime.
type KeyVaultSource struct {
	client     secretsClient
	secretName string
	timeout    time.Duration

	mu  sync.Mutex
	key []byte
}

var _ KeySource = (*KeyVaultSource)(nil)

// NewKeyVaultSource connects to the vault with the ambient Azure credential
// chain (environment, workload identity, managed identity, CLI).
func NewKeyVaultSource(vaultURL, secretName string) (*KeyVaultSource, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("key vault client: %w", err)
	}
	return &KeyVaultSource{client: client, secretName: secretName, timeout: 10 * time.Second}, nil
}

func (s *KeyVaultSource) Key() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		return s.key, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	resp, err := s.client.GetSecret(ctx, s.secretName, "", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch secret %s: %w", s.secretName, err)
	}
	if resp.Value == nil {
		return nil, fmt.Errorf("secret %s has no value", s.secretName)
	}
	key, err := base64.StdEncoding.DecodeString(*resp.Value)
	if err != nil {
		return nil, fmt.Errorf("secret %s is not base64: %w", s.secretName, err)
	}
	s.key = key
	return s.key, nil
}
