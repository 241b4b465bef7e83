package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandHelp(t *testing.T) {
	cmd := newRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "run")
	require.Contains(t, out.String(), "exec")
	require.Contains(t, out.String(), "audit")
}

func TestAuthFlagsMaterial(t *testing.T) {
	t.Run("password from env", func(t *testing.T) {
		t.Setenv("TEST_PW", "hunter2")
		f := authFlags{method: "password", passwordEnv: "TEST_PW"}
		m, err := f.material()
		require.NoError(t, err)
		defer m.Close()
		require.Equal(t, "hunter2", string(m.Password.Bytes()))
	})

	t.Run("password env empty", func(t *testing.T) {
		f := authFlags{method: "password", passwordEnv: "TEST_PW_UNSET"}
		_, err := f.material()
		require.Error(t, err)
	})

	t.Run("key requires path", func(t *testing.T) {
		f := authFlags{method: "key"}
		_, err := f.material()
		require.Error(t, err)
	})

	t.Run("ppk with passphrase env", func(t *testing.T) {
		t.Setenv("TEST_PHRASE", "opensesame")
		f := authFlags{method: "ppk", ppkPath: "/keys/x.ppk", passphraseEnv: "TEST_PHRASE"}
		m, err := f.material()
		require.NoError(t, err)
		defer m.Close()
		require.Equal(t, "/keys/x.ppk", m.KeyPath)
		require.Equal(t, "opensesame", string(m.Passphrase.Bytes()))
	})

	t.Run("unknown method", func(t *testing.T) {
		f := authFlags{method: "kerberos"}
		_, err := f.material()
		require.Error(t, err)
	})
}

func TestIndent(t *testing.T) {
	require.Equal(t, "", indent(""))
	require.Equal(t, "    a\n", indent("a\n"))
	require.Equal(t, "    a\n    b\n", indent("a\nb\n"))
}
