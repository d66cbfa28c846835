package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Flags(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--bind", ":9999", "--root", "/srv/blobs", "--rate", "10-S"}))

	bind, _ := cmd.Flags().GetString("bind")
	root, _ := cmd.Flags().GetString("root")
	rate, _ := cmd.Flags().GetString("rate")
	assert.Equal(t, ":9999", bind)
	assert.Equal(t, "/srv/blobs", root)
	assert.Equal(t, "10-S", rate)
}

func TestRootCmd_InvalidRate(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--root", t.TempDir(), "--rate", "fast"})
	assert.Error(t, cmd.Execute())
}

func TestRootCmd_CertWithoutKey(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--root", t.TempDir(), "--cert", "cert.pem"})
	assert.Error(t, cmd.Execute())
}
