package secrets

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func testMaster() []byte { return bytes.Repeat([]byte{0x42}, MinMasterKeySize) }

func TestSealOpen(t *testing.T) {
	t.Parallel()

	s, err := NewSealer(testMaster(), "palmyra.tenant.descriptor.v1")
	require.NoError(t, err)

	plaintext := []byte(`{"schema":"dev__tenant_acme"}`)
	sealed, err := s.Seal(plaintext, []byte("tenant-a"))
	require.NoError(t, err)
	require.Len(t, sealed, SealedOverhead+len(plaintext))
	require.Equal(t, SealedVersion, sealed[0])
	require.NotContains(t, string(sealed), "dev__tenant_acme")

	out, err := s.Open(sealed, []byte("tenant-a"))
	require.NoError(t, err)
	require.Equal(t, plaintext, out)
}

func TestOpenRejectsMismatches(t *testing.T) {
	t.Parallel()

	s, err := NewSealer(testMaster(), "purpose-a")
	require.NoError(t, err)
	sealed, err := s.Seal([]byte("payload"), []byte("tenant-a"))
	require.NoError(t, err)

	_, err = s.Open(sealed, []byte("tenant-b"))
	require.Error(t, err, "binding must match")

	other, err := NewSealer(testMaster(), "purpose-b")
	require.NoError(t, err)
	_, err = other.Open(sealed, []byte("tenant-a"))
	require.Error(t, err, "purposes derive different keys")

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = s.Open(tampered, []byte("tenant-a"))
	require.Error(t, err)

	_, err = s.Open(sealed[:SealedOverhead-1], []byte("tenant-a"))
	require.Error(t, err)

	badVersion := append([]byte(nil), sealed...)
	badVersion[0] = 0x02
	_, err = s.Open(badVersion, []byte("tenant-a"))
	require.ErrorContains(t, err, "not supported")
}

func TestNewSealerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewSealer([]byte("short"), "p")
	require.Error(t, err)

	_, err = NewSealer(testMaster(), " ")
	require.Error(t, err)

	_, err = NewSealerFromBase64(base64.StdEncoding.EncodeToString(testMaster()), "p")
	require.NoError(t, err)

	_, err = NewSealerFromBase64("%%%", "p")
	require.Error(t, err)
}
