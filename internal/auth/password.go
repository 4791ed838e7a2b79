package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

type HasherParams struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultHasherParams() HasherParams {
	return HasherParams{
		Time:        4,
		MemoryKiB:   64 * 1024,
		Parallelism: 8,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// PasswordHasher derives argon2id digests. Keep the default cost outside of
// tests.
type PasswordHasher struct {
	params HasherParams
}

func NewPasswordHasher(params HasherParams) *PasswordHasher {
	defaults := DefaultHasherParams()
	if params.Time == 0 {
		params.Time = defaults.Time
	}
	if params.MemoryKiB == 0 {
		params.MemoryKiB = defaults.MemoryKiB
	}
	if params.Parallelism == 0 {
		params.Parallelism = defaults.Parallelism
	}
	if params.SaltLength == 0 {
		params.SaltLength = defaults.SaltLength
	}
	if params.KeyLength == 0 {
		params.KeyLength = defaults.KeyLength
	}
	return &PasswordHasher{params: params}
}

func (h *PasswordHasher) Hash(plaintext string) (PasswordHash, error) {
	var p PasswordHash
	if err := p.SetFromPlaintext(h, plaintext); err != nil {
		return PasswordHash{}, err
	}
	return p, nil
}

// PasswordHash holds an encoded PHC-format argon2id digest. It has no read
// accessor; it leaves the process only through driver.Valuer.
type PasswordHash struct {
	encoded string
}

func (p *PasswordHash) SetFromPlaintext(h *PasswordHasher, plaintext string) error {
	if plaintext == "" {
		return errors.New("password is empty")
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, h.params.Time, h.params.MemoryKiB, h.params.Parallelism, h.params.KeyLength)
	p.encoded = fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return nil
}

// Verify recomputes the digest with the parameters stored alongside it and
// compares in constant time.
func (p PasswordHash) Verify(plaintext string) bool {
	params, salt, expected, err := decodeArgon2(p.encoded)
	if err != nil {
		return false
	}

	actual := argon2.IDKey([]byte(plaintext), salt, params.Time, params.MemoryKiB, params.Parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

func (p PasswordHash) IsZero() bool {
	return p.encoded == ""
}

func (p PasswordHash) String() string {
	return "[redacted]"
}

func (p PasswordHash) Value() (driver.Value, error) {
	if p.encoded == "" {
		return nil, errors.New("password hash is empty")
	}
	return p.encoded, nil
}

func (p *PasswordHash) Scan(src any) error {
	switch v := src.(type) {
	case string:
		p.encoded = v
	case []byte:
		p.encoded = string(v)
	default:
		return fmt.Errorf("scan password hash: unsupported type %T", src)
	}
	return nil
}

func decodeArgon2(encoded string) (HasherParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return HasherParams{}, nil, nil, errors.New("unsupported hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return HasherParams{}, nil, nil, errors.New("unsupported argon2 version")
	}

	var params HasherParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &params.Parallelism); err != nil {
		return HasherParams{}, nil, nil, fmt.Errorf("parse argon2 params: %w", err)
	}
	if params.Time == 0 || params.MemoryKiB == 0 || params.Parallelism == 0 {
		return HasherParams{}, nil, nil, errors.New("argon2 params out of range")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return HasherParams{}, nil, nil, fmt.Errorf("decode salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return HasherParams{}, nil, nil, errors.New("decode key")
	}

	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))
	return params, salt, key, nil
}
