package cmd

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlayCmd(t *testing.T, flags ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "play"}
	addPlayFlags(c.Flags())
	require.NoError(t, c.Flags().Parse(flags))
	return c
}

func TestPlayParams(t *testing.T) {
	c := newPlayCmd(t, "--loop", "--seek", "12.5", "--auto=false")
	params, err := playParams(c, []string{"clip.mp4"})
	require.NoError(t, err)

	assert.Equal(t, "clip.mp4", params.Locator)
	assert.True(t, params.Loop)
	assert.False(t, params.AutoPlay)
	require.NotNil(t, params.SeekSeconds)
	assert.InDelta(t, 12.5, *params.SeekSeconds, 1e-9)
	assert.Nil(t, params.DeviceChannel)
}

func TestPlayParamsDevice(t *testing.T) {
	c := newPlayCmd(t, "--device", "2")
	params, err := playParams(c, nil)
	require.NoError(t, err)

	require.NotNil(t, params.DeviceChannel)
	assert.Equal(t, 2, *params.DeviceChannel)
	assert.True(t, params.AutoPlay)
	assert.Nil(t, params.SeekSeconds)
}

func TestPlayParamsRequiresSource(t *testing.T) {
	_, err := playParams(newPlayCmd(t), nil)
	assert.Error(t, err)
}
