// Package keymat loads OpenSSH and PuTTY private keys and caches the parsed
// signers for the duration of one batch.
package keymat

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fleetexec/fleetexec/internal/classify"
	"github.com/fleetexec/fleetexec/internal/models"

	"github.com/kayrus/putty"
	"golang.org/x/crypto/ssh"
)

// Loader parses key material and memoizes the result. Failures are cached
// too: a bad key is parsed once, not once per host. The cache is scoped to a
// single batch; call Reset when the batch completes.
type Loader struct {
	mu    sync.Mutex
	cache map[string]entry
}

type entry struct {
	signer ssh.Signer
	err    error
}

// NewLoader creates an empty loader.
func NewLoader() *Loader {
	return &Loader{cache: make(map[string]entry)}
}

// Load returns a signer for the given auth material. Only key variants are
// accepted; password material carries no key to load.
func (l *Loader) Load(auth *models.AuthMaterial) (ssh.Signer, error) {
	if auth == nil {
		return nil, fmt.Errorf("%w: no auth material", classify.ErrKeyMaterial)
	}
	switch auth.Method {
	case models.AuthOpenSSHKey, models.AuthPuttyKey:
	default:
		return nil, fmt.Errorf("%w: %s material carries no key", classify.ErrKeyMaterial, auth.Method)
	}
	if auth.KeyPath == "" {
		return nil, fmt.Errorf("%w: key path is required", classify.ErrKeyMaterial)
	}

	key := cacheKey(auth)

	// The lock spans the parse so concurrent first loads wait for one result.
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.cache[key]; ok {
		return e.signer, e.err
	}

	signer, err := parse(auth)
	l.cache[key] = entry{signer: signer, err: err}

	return signer, err
}

// Reset drops all cached material. Called at batch completion.
func (l *Loader) Reset() {
	l.mu.Lock()
	l.cache = make(map[string]entry)
	l.mu.Unlock()
}

// cacheKey combines the canonical key path with a passphrase digest so the
// same file opened with a different passphrase is a distinct cache entry.
// Raw passphrase bytes never become map keys.
func cacheKey(auth *models.AuthMaterial) string {
	path := auth.KeyPath
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	if auth.Passphrase != nil {
		h.Write(auth.Passphrase.Bytes())
	}
	return hex.EncodeToString(h.Sum(nil))
}

func parse(auth *models.AuthMaterial) (ssh.Signer, error) {
	if _, err := os.Stat(auth.KeyPath); err != nil {
		return nil, fmt.Errorf("%w: key file not found: %s", classify.ErrKeyMaterial, auth.KeyPath)
	}

	switch auth.Method {
	case models.AuthPuttyKey:
		return parsePPK(auth)
	default:
		return parseOpenSSH(auth)
	}
}

func parseOpenSSH(auth *models.AuthMaterial) (ssh.Signer, error) {
	raw, err := os.ReadFile(auth.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read key file %s: %v", classify.ErrKeyMaterial, auth.KeyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(raw)
	if err == nil {
		return signer, nil
	}

	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("%w: failed to parse private key %s: %v", classify.ErrKeyMaterial, auth.KeyPath, err)
	}

	if auth.Passphrase == nil || auth.Passphrase.Len() == 0 {
		return nil, fmt.Errorf("%w: key %s is passphrase protected but no passphrase was supplied", classify.ErrKeyMaterial, auth.KeyPath)
	}

	signer, err = ssh.ParsePrivateKeyWithPassphrase(raw, auth.Passphrase.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: incorrect passphrase for %s: %v", classify.ErrKeyMaterial, auth.KeyPath, err)
	}
	return signer, nil
}

// parsePPK reads PuTTY v2/v3 key files natively. The fleet historically
// shelled out to puttygen for the conversion; parsing in-process removes the
// external tool requirement and the temporary plaintext key file it implied.
func parsePPK(auth *models.AuthMaterial) (ssh.Signer, error) {
	ppk, err := putty.NewFromFile(auth.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse ppk file %s: %v", classify.ErrKeyMaterial, auth.KeyPath, err)
	}

	var passphrase []byte
	if auth.Passphrase != nil {
		passphrase = auth.Passphrase.Bytes()
	}
	if ppk.Encryption != "none" && len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: ppk key %s is encrypted (%s) but no passphrase was supplied", classify.ErrKeyMaterial, auth.KeyPath, ppk.Encryption)
	}

	priv, err := ppk.ParseRawPrivateKey(passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt ppk key %s: %v", classify.ErrKeyMaterial, auth.KeyPath, err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: unusable key in %s: %v", classify.ErrKeyMaterial, auth.KeyPath, err)
	}
	return signer, nil
}
