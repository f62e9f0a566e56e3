package cliopts

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	opts, err := Parse([]string{"--", "gopls", "-mode=stdio"}, func(string) {})
	require.NoError(t, err)
	require.NotNil(t, opts)
	assert.Equal(t, "0.0.0.0:9999", opts.Listen)
	assert.Equal(t, time.Duration(0), opts.Timeout)
	assert.False(t, opts.Sync)
	assert.False(t, opts.Remap)
	assert.Equal(t, []string{"gopls", "-mode=stdio"}, opts.Tail)
}

func TestParseBareIntegerListen(t *testing.T) {
	opts, err := Parse([]string{"-l", "8080", "--", "gopls"}, func(string) {})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", opts.Listen)
}

func TestParseExplicitListenUnchanged(t *testing.T) {
	opts, err := Parse([]string{"-l", "127.0.0.1:8080", "--", "gopls"}, func(string) {})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", opts.Listen)
}

func TestParseTimeoutAndToggles(t *testing.T) {
	opts, err := Parse([]string{"-t", "30", "-s", "-r", "--", "gopls"}, func(string) {})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.True(t, opts.Sync)
	assert.True(t, opts.Remap)
}

func TestParseMultipleServerGroups(t *testing.T) {
	opts, err := Parse([]string{"--", "gopls", "-mode=stdio", "--", "rust-analyzer"}, func(string) {})
	require.NoError(t, err)
	assert.Equal(t, []string{"gopls", "-mode=stdio", "--", "rust-analyzer"}, opts.Tail)
}

func TestParseVersionFlagShortCircuits(t *testing.T) {
	var printed string
	opts, err := Parse([]string{"-v"}, func(v string) { printed = v })
	require.NoError(t, err)
	assert.Nil(t, opts)
	assert.Equal(t, "dev", printed)
}

func TestParseUnknownFlagIsParseError(t *testing.T) {
	_, err := Parse([]string{"--bogus"}, func(string) {})
	require.Error(t, err)
	var cliErr *Error
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, ExitParseError, cliErr.Code)
}

func TestBuildRegistryNoServersIsExitCode3(t *testing.T) {
	_, _, err := BuildRegistry(&Options{})
	require.Error(t, err)
	var cliErr *Error
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, ExitNoServers, cliErr.Code)
}

func TestBuildRegistryFromTail(t *testing.T) {
	reg, shadowed, err := BuildRegistry(&Options{Tail: []string{"gopls", "-mode=stdio"}})
	require.NoError(t, err)
	assert.Equal(t, 0, shadowed)
	spec, _ := reg.Lookup("gopls")
	assert.Equal(t, "gopls", spec.Command)
}

func TestBuildRegistryFromServersFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/servers.yaml"
	contents := "servers:\n  - name: gopls\n    command: gopls\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	reg, _, err := BuildRegistry(&Options{ServersFile: path})
	require.NoError(t, err)
	spec, usedDefault := reg.Lookup("gopls")
	assert.False(t, usedDefault)
	assert.Equal(t, "gopls", spec.Command)
}
