package crypto_test

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-alarms/internal/crypto"
)

func TestAESGCM_RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	sealed, err := crypto.EncryptGCM(key, []byte("secret payload"), []byte("context"))
	require.NoError(t, err)

	plain, err := crypto.DecryptGCM(key, sealed, []byte("context"))
	require.NoError(t, err)
	assert.Equal(t, "secret payload", string(plain))

	_, err = crypto.DecryptGCM(key, sealed, []byte("other"))
	assert.ErrorIs(t, err, crypto.ErrDecryption)

	sealed[len(sealed)-1] ^= 0xFF
	_, err = crypto.DecryptGCM(key, sealed, []byte("context"))
	assert.ErrorIs(t, err, crypto.ErrDecryption)

	_, err = crypto.DecryptGCM(key, []byte("short"), nil)
	assert.ErrorIs(t, err, crypto.ErrDecryption)

	_, err = crypto.EncryptGCM([]byte("short"), nil, nil)
	assert.ErrorIs(t, err, crypto.ErrInvalidKeySize)
}

func newKeyring(t *testing.T, kids ...string) *crypto.Keyring {
	t.Helper()
	kr := crypto.NewKeyring()
	for _, kid := range kids {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		require.NoError(t, kr.Add(kid, key))
	}
	require.NoError(t, kr.SetActive(kids[0]))
	return kr
}

func TestSealOpen(t *testing.T) {
	kr := newKeyring(t, "k1")

	sealed, err := kr.Seal("hunter2", "lobby")
	require.NoError(t, err)
	assert.True(t, crypto.IsSealed(sealed))
	assert.True(t, strings.HasPrefix(sealed, "enc:v1:k1:"))
	assert.NotContains(t, sealed, "hunter2")

	plain, err := kr.Open(sealed, "lobby")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	_, err = kr.Open(sealed, "dock")
	assert.ErrorIs(t, err, crypto.ErrDecryption, "bound to the camera id")
}

func TestSealOpen_Rotation(t *testing.T) {
	kr := newKeyring(t, "old", "new")
	sealed, err := kr.Seal("pw", "lobby")
	require.NoError(t, err)

	require.NoError(t, kr.SetActive("new"))
	plain, err := kr.Open(sealed, "lobby")
	require.NoError(t, err)
	assert.Equal(t, "pw", plain)

	resealed, err := kr.Seal("pw", "lobby")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resealed, "enc:v1:new:"))
}

func TestOpen_Malformed(t *testing.T) {
	kr := newKeyring(t, "k1")
	for _, s := range []string{"plain", "enc:v1:", "enc:v1:k1", "enc:v1:k1:!!!"} {
		_, err := kr.Open(s, "lobby")
		assert.ErrorIs(t, err, crypto.ErrMalformedSecret, s)
	}
	_, err := kr.Open("enc:v1:missing:AAAA", "lobby")
	assert.ErrorIs(t, err, crypto.ErrKeyNotFound)
}

func TestLoadFromEnv(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	raw, err := json.Marshal([]crypto.MasterKey{{KID: "k1", Material: base64.StdEncoding.EncodeToString(key)}})
	require.NoError(t, err)

	t.Setenv("ALARMD_MASTER_KEYS", "")
	t.Setenv("ALARMD_ACTIVE_KID", "")
	assert.ErrorIs(t, crypto.NewKeyring().LoadFromEnv(), crypto.ErrNoMasterKeys)

	t.Setenv("ALARMD_MASTER_KEYS", string(raw))
	kr := crypto.NewKeyring()
	require.NoError(t, kr.LoadFromEnv(), "single key becomes active")
	_, err = kr.Seal("pw", "lobby")
	require.NoError(t, err)

	t.Setenv("ALARMD_ACTIVE_KID", "k2")
	assert.ErrorIs(t, crypto.NewKeyring().LoadFromEnv(), crypto.ErrKeyNotFound)

	t.Setenv("ALARMD_MASTER_KEYS", `[{"kid":"k1","material":"c2hvcnQ="}]`)
	t.Setenv("ALARMD_ACTIVE_KID", "")
	assert.ErrorContains(t, crypto.NewKeyring().LoadFromEnv(), "invalid key length")
}
