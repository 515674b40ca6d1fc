package roborock

import (
	"crypto/md5" //nolint:gosec // derivation is fixed by the cloud service
	"encoding/hex"
)

// Credentials is the broker identity for one account.
type Credentials struct {
	Username string
	Password string
}

// DeriveCredentials computes the broker username and password from the
// account's rriot secrets: user id u, secret s and key k.
//
//	username = md5hex(u + ":" + k)[2:10]
//	password = md5hex(s + ":" + k)[16:]
//
// The result depends only on its inputs.
func DeriveCredentials(userID, secret, key string) Credentials {
	return Credentials{
		Username: md5Hex(userID + ":" + key)[2:10],
		Password: md5Hex(secret + ":" + key)[16:],
	}
}

// String redacts the password.
func (c Credentials) String() string {
	return "Credentials{Username: " + c.Username + ", Password: [REDACTED]}"
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}
