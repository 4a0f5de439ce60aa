package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeCodec(t *testing.T) {
	env := Envelope{
		Targets: []int64{1, 42, 1 << 40},
		Frame:   []byte(`{"event":"ReceiveMessage","payload":{"id":7}}`),
		Origin:  "instance-a",
	}
	data, err := EncodeEnvelope(env)
	require.NoError(t, err)

	again, err := EncodeEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, data, again)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := DecodeEnvelope([]byte{0xff, 0x00, 0x13})
	assert.Error(t, err)
	_, err = DecodeEnvelope(nil)
	assert.Error(t, err)
}
