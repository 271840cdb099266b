// Package secrets obfuscates credentials before they appear in published
// snapshots or logs.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/HerbHall/iloscout/pkg/models"
)

// Argon2id parameters for password digests.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// Obfuscator turns raw credentials into an IloUser. When disabled the
// password is carried in-process as-is; when enabled only an Argon2id
// digest leaves the process.
type Obfuscator struct {
	enabled bool
}

// NewObfuscator creates an obfuscator.
func NewObfuscator(enabled bool) *Obfuscator {
	return &Obfuscator{enabled: enabled}
}

// Enabled reports whether obfuscation is active.
func (o *Obfuscator) Enabled() bool {
	return o.enabled
}

// User builds the credential pair used for authenticated sessions. The
// raw password is always kept for the session itself; the digest replaces
// it in anything serialized.
func (o *Obfuscator) User(username, password string) (models.IloUser, error) {
	user := models.IloUser{Username: username, Password: password}
	if !o.enabled {
		return user, nil
	}
	digest, err := Digest(password)
	if err != nil {
		return models.IloUser{}, err
	}
	user.PasswordDigest = digest
	return user, nil
}

// Digest returns "salt$hash" with both parts base64-encoded.
func Digest(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	enc := base64.RawStdEncoding
	return enc.EncodeToString(salt) + "$" + enc.EncodeToString(hash), nil
}
