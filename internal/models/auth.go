package models

import (
	"fmt"

	"github.com/fleetexec/fleetexec/internal/secret"
)

// AuthMethod tags the authentication variant of an AuthMaterial.
type AuthMethod string

// Supported authentication methods.
const (
	AuthPassword   AuthMethod = "password"
	AuthOpenSSHKey AuthMethod = "key"
	AuthPuttyKey   AuthMethod = "ppk"
)

// AuthMaterial is a tagged credential variant shared by all sessions of a
// batch. Secrets are wiped by Close; the material is built once per batch
// from UI config.
type AuthMaterial struct {
	Method AuthMethod

	// Password is set for AuthPassword.
	Password *secret.Secret

	// KeyPath is the private key file for AuthOpenSSHKey / AuthPuttyKey.
	KeyPath string

	// Passphrase optionally decrypts the key file.
	Passphrase *secret.Secret
}

// NewPasswordAuth builds password authentication material.
func NewPasswordAuth(password []byte) *AuthMaterial {
	return &AuthMaterial{Method: AuthPassword, Password: secret.New(password)}
}

// NewKeyAuth builds OpenSSH private key authentication material.
func NewKeyAuth(path string, passphrase []byte) *AuthMaterial {
	m := &AuthMaterial{Method: AuthOpenSSHKey, KeyPath: path}
	if len(passphrase) > 0 {
		m.Passphrase = secret.New(passphrase)
	}
	return m
}

// NewPPKAuth builds PuTTY private key authentication material.
func NewPPKAuth(path string, passphrase []byte) *AuthMaterial {
	m := &AuthMaterial{Method: AuthPuttyKey, KeyPath: path}
	if len(passphrase) > 0 {
		m.Passphrase = secret.New(passphrase)
	}
	return m
}

// Validate enforces the per-variant invariants: key variants need a path,
// the password variant needs a non-empty password.
func (m *AuthMaterial) Validate() error {
	switch m.Method {
	case AuthPassword:
		if m.Password == nil || m.Password.Len() == 0 {
			return fmt.Errorf("auth material: password is required for password authentication")
		}
	case AuthOpenSSHKey:
		if m.KeyPath == "" {
			return fmt.Errorf("auth material: key path is required for key authentication")
		}
	case AuthPuttyKey:
		if m.KeyPath == "" {
			return fmt.Errorf("auth material: ppk path is required for ppk authentication")
		}
	default:
		return fmt.Errorf("auth material: unknown method %q", m.Method)
	}
	return nil
}

// Close wipes the held secrets. Safe to call more than once.
func (m *AuthMaterial) Close() {
	if m.Password != nil {
		m.Password.Zero()
	}
	if m.Passphrase != nil {
		m.Passphrase.Zero()
	}
}

// String never exposes secret bytes.
func (m *AuthMaterial) String() string {
	switch m.Method {
	case AuthOpenSSHKey, AuthPuttyKey:
		return fmt.Sprintf("%s(%s)", m.Method, m.KeyPath)
	default:
		return string(m.Method)
	}
}
