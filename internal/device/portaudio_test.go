package device

import (
	"errors"
	"testing"

	"github.com/gordonklaus/portaudio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultInput(t *testing.T) {
	_, err := defaultInput(nil, nil)
	assert.Equal(t, ErrNoInputDevice, err)
	assert.NotContains(t, err.Error(), "<nil>")

	_, err = defaultInput(nil, errors.New("host error"))
	assert.ErrorIs(t, err, ErrNoInputDevice)
	assert.ErrorContains(t, err, "host error")

	dev, err := defaultInput(&portaudio.DeviceInfo{Name: "mic"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "mic", dev.Name)
}

func TestMicrophoneErrBeforeStart(t *testing.T) {
	m := NewMicrophone(16000)
	assert.Nil(t, m.Err())
	assert.NoError(t, m.Stop())
}
