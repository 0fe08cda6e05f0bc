package credential

import (
	"fmt"

	"github.com/99designs/keyring"
)

const (
	serviceName = "cargolane-notify"

	// TokenKey is where the bearer credential for the notification gateway
	// lives in the keyring.
	TokenKey = "bearer_token"
)

// openKeyring returns a configured keyring instance. The file backend keeps
// headless hosts working when no OS secret service is available.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/cargolane-notify/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("cargolane-notify-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// KeyringSource resolves the bearer credential from the system keyring on
// every call, so a re-login is picked up without restarting.
type KeyringSource struct {
	key string
}

func NewKeyringSource() *KeyringSource {
	return &KeyringSource{key: TokenKey}
}

func (s *KeyringSource) Token() (string, error) {
	return Get(s.key)
}
