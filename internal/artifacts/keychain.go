package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeychainService is the system keychain service the S3 credentials are stored under
const KeychainService = "fluxpack"

// Credentials are the S3 keys for one endpoint
type Credentials struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

// SaveCredentials stores creds for endpoint in the system keychain
func SaveCredentials(endpoint string, creds Credentials) error {
	if creds.AccessKey == "" || creds.SecretKey == "" {
		return fmt.Errorf("access key and secret key are required")
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := keyring.Set(KeychainService, endpoint, string(data)); err != nil {
		return fmt.Errorf("failed to save to keychain: %w", err)
	}
	return nil
}

// LoadCredentials returns the keychain credentials for endpoint, or nil when none are stored
func LoadCredentials(endpoint string) (*Credentials, error) {
	data, err := keyring.Get(KeychainService, endpoint)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load from keychain: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return &creds, nil
}

// DeleteCredentials removes the keychain credentials for endpoint. Missing credentials are not
// an error.
func DeleteCredentials(endpoint string) error {
	err := keyring.Delete(KeychainService, endpoint)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from keychain: %w", err)
	}
	return nil
}
