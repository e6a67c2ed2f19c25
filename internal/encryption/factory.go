package encryption

import (
	"fmt"
	"strings"

	"cfgedit/internal/cfgedit"
	"cfgedit/internal/config"
)

// NewEncryptorFromConfig returns the draft Encryptor named by cfg.Type.
// age, the default, needs both key paths even before Setup has run.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (cfgedit.Encryptor, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "age":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption needs public_key_path and private_key_path")
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	}
	return nil, fmt.Errorf("unknown encryption type %q: want age or test", cfg.Type)
}
