package cashbox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	passphraseLen        = 8
	passphraseIterations = 4096
)

// PassphraseValidator derives and checks the daily supervisor key: a
// rotating secret that authorizes sensitive closes for one calendar day.
type PassphraseValidator struct {
	secret []byte
}

// NewPassphraseValidator builds a validator over the shared secret.
func NewPassphraseValidator(secret string) *PassphraseValidator {
	return &PassphraseValidator{secret: []byte(secret)}
}

// KeyFor derives the passphrase valid on the given date. The date is the
// salt, so the key rotates at midnight without coordination.
func (v *PassphraseValidator) KeyFor(date time.Time) string {
	salt := []byte(date.Format("2006-01-02"))
	raw := pbkdf2.Key(v.secret, salt, passphraseIterations, 5, sha256.New)
	return base32.StdEncoding.EncodeToString(raw)[:passphraseLen]
}

// Validate reports whether the passphrase matches the date's key.
func (v *PassphraseValidator) Validate(passphrase string, date time.Time) bool {
	expected := v.KeyFor(date)
	supplied := strings.ToUpper(strings.TrimSpace(passphrase))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}
