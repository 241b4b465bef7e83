package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/fleetexec/fleetexec/internal/config"
	"github.com/fleetexec/fleetexec/internal/models"

	"github.com/spf13/cobra"
)

// authFlags collects the credential flags shared by run and exec. Secrets are
// taken from environment variables, never from argv, so they stay out of the
// process list and shell history.
type authFlags struct {
	user          string
	method        string
	passwordEnv   string
	keyPath       string
	ppkPath       string
	passphraseEnv string
}

func (f *authFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "ssh username (default from config)")
	cmd.Flags().StringVar(&f.method, "auth", "password", "auth method: password|key|ppk")
	cmd.Flags().StringVar(&f.passwordEnv, "password-env", "FLEETEXEC_SSH_PASSWORD", "environment variable holding the password")
	cmd.Flags().StringVar(&f.keyPath, "key", "", "OpenSSH private key path")
	cmd.Flags().StringVar(&f.ppkPath, "ppk", "", "PuTTY private key path")
	cmd.Flags().StringVar(&f.passphraseEnv, "passphrase-env", "FLEETEXEC_KEY_PASSPHRASE", "environment variable holding the key passphrase")
}

// material builds the AuthMaterial from the flags. The caller owns the
// returned material and must Close it after the run.
func (f *authFlags) material() (*models.AuthMaterial, error) {
	passphrase := []byte(os.Getenv(f.passphraseEnv))

	switch f.method {
	case "password":
		pw := os.Getenv(f.passwordEnv)
		if pw == "" {
			return nil, fmt.Errorf("password auth selected but $%s is empty", f.passwordEnv)
		}
		return models.NewPasswordAuth([]byte(pw)), nil
	case "key":
		if f.keyPath == "" {
			return nil, fmt.Errorf("--key is required for key auth")
		}
		return models.NewKeyAuth(f.keyPath, passphrase), nil
	case "ppk":
		if f.ppkPath == "" {
			return nil, fmt.Errorf("--ppk is required for ppk auth")
		}
		return models.NewPPKAuth(f.ppkPath, passphrase), nil
	default:
		return nil, fmt.Errorf("unknown auth method %q", f.method)
	}
}

// sessionTemplate builds the per-session template from config defaults plus
// the resolved credentials.
func sessionTemplate(defaults config.SessionDefaults, username string, auth *models.AuthMaterial) models.SessionConfig {
	return models.SessionConfig{
		Username:           username,
		Auth:               auth,
		ConnectTimeout:     defaults.ConnectTimeout(),
		KeepAliveInterval:  defaults.KeepAlive(),
		ReconnectAttempts:  defaults.ReconnectAttempts,
		ReconnectDelayBase: defaults.ReconnectDelayBase(),
		CompressionEnabled: defaults.Compression,
		CompressionLevel:   defaults.CompressionLevel,
	}
}

func time24h(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
