package main

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/aretw0/tradedesk/internal/config"
	"github.com/aretw0/tradedesk/pkg/adapters/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Regexp(t, `^tradedesk version \d+\.\d+\.\d+\n$`, out.String())
}

func TestServerCommandRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENALGO_API_KEY", "")
	rootCmd.SetArgs([]string{"server", "--env-file", "testdata/missing.env"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENALGO_API_KEY")
}

func TestSubcommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"server", "web", "chat", "version"})
}

func TestProtectStore(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))

	_, err := protectStore(memory.NewStore(), config.RedisConfig{})
	require.NoError(t, err)

	_, err = protectStore(memory.NewStore(), config.RedisConfig{EncryptionKey: key, FallbackKeys: []string{key}})
	require.NoError(t, err)

	_, err = protectStore(memory.NewStore(), config.RedisConfig{EncryptionKey: "short"})
	assert.ErrorContains(t, err, "REDIS_ENCRYPTION_KEY")
}
