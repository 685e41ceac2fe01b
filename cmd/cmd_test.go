package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArgumentErrors(t *testing.T) {
	err := attachCmd.RunE(attachCmd, []string{"abc"})
	assert.ErrorContains(t, err, "invalid pid")

	err = attachCmd.RunE(attachCmd, nil)
	assert.ErrorContains(t, err, "exactly one pid")

	err = execCmd.RunE(execCmd, nil)
	assert.ErrorContains(t, err, "program missing")
}

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"exec", "attach", "console"} {
		assert.True(t, names[want], want)
	}

	for _, flag := range []string{"config", "listen", "log-level", "log-wire", "compress", "max-retransmits", "nonstop", "poll-interval", "memcache-lines"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(flag), flag)
	}
}
