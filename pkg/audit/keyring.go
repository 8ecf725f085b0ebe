package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// receiptDomain separates receipt keys from any other key derived from the
// same root secret. Bump the version if the receipt format changes.
const receiptDomain = "airlock:receipt:v1"

// hkdfSalt is fixed; uniqueness comes from the root secret and the domain.
var hkdfSalt = []byte("airlock-receipt-kdf")

// ErrBadReceipt indicates a receipt whose seal does not match its contents.
var ErrBadReceipt = errors.New("audit: receipt seal mismatch")

// Receipt attests that an action reached a terminal state. The seal covers
// every other field, so a receipt cannot be rebound to a different intent
// or outcome after issuance.
type Receipt struct {
	IntentID        string    `json:"intent_id"`
	Action          string    `json:"action"`
	Status          string    `json:"status"`
	Note            string    `json:"note,omitempty"`
	ArgsFingerprint string    `json:"args_fingerprint,omitempty"`
	IssuedAt        time.Time `json:"issued_at"`
	Seal            string    `json:"seal"`
}

// Keyring derives receipt keys from a root secret via HKDF-SHA256.
type Keyring struct {
	key []byte
}

// NewKeyring derives the receipt key. The root secret must be non-empty;
// operators supply it out of band.
func NewKeyring(rootSecret []byte) (*Keyring, error) {
	if len(rootSecret) == 0 {
		return nil, errors.New("audit: empty root secret")
	}
	r := hkdf.New(sha256.New, rootSecret, hkdfSalt, []byte(receiptDomain))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("audit: derive receipt key: %w", err)
	}
	return &Keyring{key: key}, nil
}

// Seal computes the receipt's seal and returns the sealed copy.
func (k *Keyring) Seal(r Receipt) (Receipt, error) {
	seal, err := k.seal(r)
	if err != nil {
		return Receipt{}, err
	}
	r.Seal = seal
	return r, nil
}

// Verify recomputes the seal and compares in constant time.
func (k *Keyring) Verify(r Receipt) error {
	want, err := k.seal(r)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(want), []byte(r.Seal)) {
		return ErrBadReceipt
	}
	return nil
}

func (k *Keyring) seal(r Receipt) (string, error) {
	r.Seal = ""
	payload, err := CanonicalJSON(r)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, k.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
