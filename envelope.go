package hivesync

import (
	"encoding/base64"
	"strings"

	"github.com/hivedb-io/hivesync/types"
	"github.com/hivedb-io/hivesync/utils"
)

// Stored values in secure mode are sealed client-side before they leave
// the process: AES-GCM under a PBKDF2 key derived from the configured
// cell secret, with a fresh salt per value. The envelope is tagged so
// Fetch can tell sealed payloads from plain ones.
const (
	envelopePrefix    = "enc::v1::"
	envelopeSeparator = "::"
)

func sealValue(value, secret string) (string, error) {
	salt, err := utils.NewSalt()
	if err != nil {
		return "", types.WrapError(err, "failed to generate envelope salt")
	}

	key := utils.DeriveKey(secret, salt)

	sealed, err := utils.Encrypt([]byte(value), key)
	if err != nil {
		return "", types.WrapError(err, "failed to seal value")
	}

	return envelopePrefix +
		base64.StdEncoding.EncodeToString(salt) +
		envelopeSeparator +
		base64.StdEncoding.EncodeToString(sealed), nil
}

// openEnvelope unseals a recognized envelope. Values without the
// envelope tag pass through untouched.
func openEnvelope(value, secret string) (string, error) {
	if !strings.HasPrefix(value, envelopePrefix) {
		return value, nil
	}

	parts := strings.SplitN(strings.TrimPrefix(value, envelopePrefix), envelopeSeparator, 2)
	if len(parts) != 2 {
		return "", types.NewErrorf("malformed value envelope")
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", types.WrapError(err, "malformed envelope salt")
	}

	sealed, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", types.WrapError(err, "malformed envelope payload")
	}

	key := utils.DeriveKey(secret, salt)

	plain, err := utils.Decrypt(sealed, key)
	if err != nil {
		return "", types.WrapError(err, "failed to unseal value")
	}

	return string(plain), nil
}
