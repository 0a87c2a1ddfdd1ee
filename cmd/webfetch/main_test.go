package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	root := newRootCmd()

	fetch, _, err := root.Find([]string{"fetch"})
	require.NoError(t, err)
	for _, name := range []string{"max-chunk-tokens", "no-cache", "force-browser", "max-output-bytes"} {
		assert.NotNil(t, fetch.Flags().Lookup(name), name)
	}

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.NotNil(t, serve.Flags().Lookup("port"))
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestFetchRequiresURL(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"fetch"})
	assert.ErrorContains(t, root.Execute(), "accepts 1 arg(s)")
}

func TestLoadRejectsBadConfigFile(t *testing.T) {
	opts := &rootOptions{configFile: "settings.ini"}
	_, _, err := opts.load()
	assert.Error(t, err)

	opts = &rootOptions{logLevel: "chatty"}
	_, _, err = opts.load()
	assert.ErrorContains(t, err, "invalid log level")
}
