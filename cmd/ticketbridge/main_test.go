package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/ticket-bridge/internal/auth"
)

func TestRootRegistersSubcommands(t *testing.T) {
	root := NewRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "watchdog", "close-ticket", "hash-password"} {
		require.True(t, names[want], want)
	}
}

func TestHashPasswordReadsStdin(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetIn(strings.NewReader("correct horse\n"))
	root.SetOut(&out)
	root.SetArgs([]string{"hash-password", "--cost", "4"})
	require.NoError(t, root.Execute())

	hash := strings.TrimSpace(out.String())
	require.NoError(t, auth.ComparePassword(hash, "correct horse"))
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	require.Equal(t, 4, cost)
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	root := NewRootCommand()
	root.SetIn(strings.NewReader(""))
	root.SetArgs([]string{"hash-password"})
	require.Error(t, root.Execute())
}

func TestCloseTicketNeedsID(t *testing.T) {
	root := NewRootCommand()
	root.SetArgs([]string{"close-ticket"})
	require.Error(t, root.Execute())
}
