package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "ttkn/internal/jwt_token"
	"ttkn/internal/platform/config"
	"ttkn/pkg/domain"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "migrate", "token", "audit-consumer"}, names)
}

func TestTokenCommand(t *testing.T) {
	account := domain.MustParseAccount("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--account", account.String(), "--jwt.signing-key", "k", "--jwt.ttl", "5m"})
	require.NoError(t, root.Execute())

	claims, err := jwttoken.NewJWTService("k", "ttkn", "ttkn-api").ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	got, err := claims.Account()
	require.NoError(t, err)
	assert.Equal(t, account, got)
}

func TestTokenCommandRejectsBadAccount(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token", "--account", "not-an-address"})
	assert.Error(t, root.Execute())
}

func TestServeRequiresOwner(t *testing.T) {
	t.Setenv("TTKN_OWNER", "")
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"serve"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner account is required")
}

func TestWarnsOnDefaultSigningKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		wantWarn bool
	}{
		{name: "development default", key: config.DefaultJWTSigningKey, wantWarn: true},
		{name: "operator key", key: "prod-key", wantWarn: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			a := &app{
				cfg:    config.Server{JWT: config.JWTConfig{SigningKey: tt.key}},
				logger: slog.New(slog.NewJSONHandler(&logs, nil)),
			}
			a.warnInsecureDefaults(context.Background())

			if tt.wantWarn {
				assert.Contains(t, logs.String(), `"level":"WARN"`)
				assert.Contains(t, logs.String(), config.FlagJWTSigningKey)
			} else {
				assert.Empty(t, logs.String())
			}
		})
	}
}
