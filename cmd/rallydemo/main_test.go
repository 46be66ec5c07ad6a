package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/gythreading/rally"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_FlagError(t *testing.T) {
	var out bytes.Buffer
	err := Run(context.Background(), []string{"-undefined-flag"}, &out)
	assert.Error(t, err)
}

func TestRun_InvalidThreshold(t *testing.T) {
	var out bytes.Buffer
	err := Run(context.Background(), []string{"-n", "0"}, &out)
	assert.ErrorIs(t, err, rally.ErrInvalidArgument)

	err = Run(context.Background(), []string{"-rounds", "0"}, &out)
	assert.Error(t, err)
}

func TestRun_Success(t *testing.T) {
	var out bytes.Buffer
	err := Run(context.Background(), []string{
		"-n", "3", "-rounds", "2", "-min", "1ms", "-max", "10ms",
	}, &out)
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "round 1")
	assert.Contains(t, s, "round 2")
	assert.Equal(t, 2, strings.Count(s, "3/3 released"))
	assert.Equal(t, 3, strings.Count(s, "in generation 1"))
	assert.Contains(t, s, "waits for threshold")
}

func TestRun_Timeout(t *testing.T) {
	var out bytes.Buffer
	// A 1ns deadline usually expires before the partner arrives. Either
	// way the run ends, and the only failure it may report is a timeout.
	err := Run(context.Background(), []string{
		"-n", "2", "-min", "0", "-max", "0", "-timeout", "1ns",
	}, &out)
	if err != nil {
		assert.ErrorIs(t, err, rally.ErrTimeout)
		assert.Contains(t, out.String(), "timed out")
	}
}
