package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeMetadata_RoundTrips(t *testing.T) {
	raw, err := encodeMetadata(map[string]any{"k": "v"})
	require.NoError(t, err)

	decoded, err := decodeMetadata(raw)
	require.NoError(t, err)
	require.Equal(t, "v", decoded["k"])
}

func TestEncodeMetadata_NilBecomesEmptyObject(t *testing.T) {
	raw, err := encodeMetadata(nil)
	require.NoError(t, err)
	require.Equal(t, "{}", string(raw))
}

func TestDecodeMetadata_EmptyBytesYieldsEmptyMap(t *testing.T) {
	decoded, err := decodeMetadata(nil)
	require.NoError(t, err)
	require.Empty(t, decoded)
}

func TestEncodeDecodeIDs_RoundTrips(t *testing.T) {
	raw, err := encodeIDs([]string{"a", "b"})
	require.NoError(t, err)

	decoded, err := decodeIDs(raw)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, decoded)
}

func TestEncodeIDs_NilBecomesEmptyArray(t *testing.T) {
	raw, err := encodeIDs(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", string(raw))
}

func TestDecodeIDs_EmptyBytesYieldsNil(t *testing.T) {
	decoded, err := decodeIDs(nil)
	require.NoError(t, err)
	require.Nil(t, decoded)
}
