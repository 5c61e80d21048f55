package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	root := rootCmd()

	for _, path := range [][]string{{"migrate", "up"}, {"migrate", "down"}, {"cleanup"}, {"status"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	down, _, err := root.Find([]string{"migrate", "down"})
	require.NoError(t, err)
	steps, err := down.Flags().GetInt("steps")
	require.NoError(t, err)
	assert.Equal(t, 1, steps)
}

func TestArgumentValidationRunsBeforeConnecting(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"status without ref", []string{"status", "--kind", "tour"}},
		{"status without kind", []string{"status", "TOUR_ORDER_1"}},
		{"cleanup bad duration", []string{"cleanup", "--older-than", "soon"}},
		{"migrate up with args", []string{"migrate", "up", "extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := rootCmd()
			root.SetArgs(tt.args)
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			assert.Error(t, root.Execute())
		})
	}
}
