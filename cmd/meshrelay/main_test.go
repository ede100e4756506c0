package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshrelay/internal/authutil"
)

func TestTokenCommandIssuesValidToken(t *testing.T) {
	t.Setenv("MESH_API_SECRET", "line-secret")
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--subject", "expo"})
	require.NoError(t, cmd.Execute())

	issuer, err := authutil.NewIssuer("line-secret")
	require.NoError(t, err)
	subject, err := issuer.Validate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "expo", subject)
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	t.Setenv("MESH_API_SECRET", "")
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"token"})
	assert.ErrorContains(t, cmd.Execute(), "MESH_API_SECRET")
}

func TestServeRejectsInvalidFlags(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--ttl", "0", "--log-format", "json"})
	assert.ErrorContains(t, cmd.Execute(), "ttl must be positive")
}
