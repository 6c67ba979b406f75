package testutil

import (
	"anyback-go/internal/encryption"
)

// NewTestEncryptor creates a test encryptor already set up with passphrase.
func NewTestEncryptor(passphrase string) *encryption.TestEncryptor {
	e := encryption.NewTestEncryptor()
	if err := e.Setup(passphrase); err != nil {
		panic(err)
	}
	return e
}
