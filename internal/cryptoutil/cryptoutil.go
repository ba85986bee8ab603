// Package cryptoutil provides the gateway's secret-handling primitives:
// bcrypt client-secret hashing, JWT issuance/verification, and symmetric
// encryption for DataSource passwords at rest. The original implementation
// uses Fernet for the latter; no Fernet-equivalent package exists anywhere
// in the example pack, so this ports the same "versioned authenticated
// symmetric encryption" property onto stdlib crypto/aes+crypto/cipher
// (AES-256-GCM), keyed through golang.org/x/crypto/hkdf — the same
// dependency the teacher already carries for SCRAM — instead of pulling in
// an unrelated new encryption library.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// FieldCipher encrypts/decrypts individual secret fields (DataSource
// passwords) using a key derived from a master secret via HKDF.
type FieldCipher struct {
	gcm cipher.AEAD
}

// NewFieldCipher derives a 32-byte AES-256 key from masterSecret via HKDF-
// SHA3-256, using "dbgateway-field-encryption-v1" as the fixed info string
// so a masterSecret rotation can be versioned by changing that string.
func NewFieldCipher(masterSecret string) (*FieldCipher, error) {
	if masterSecret == "" {
		return nil, errors.New("master secret must not be empty")
	}
	kdf := hkdf.New(sha3.New256, []byte(masterSecret), nil, []byte("dbgateway-field-encryption-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving field encryption key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM mode: %w", err)
	}
	return &FieldCipher{gcm: gcm}, nil
}

// Encrypt returns a base64url token: nonce || ciphertext || tag.
func (f *FieldCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, f.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext := f.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Returns an error if the token has been tampered
// with or was encrypted under a different key.
func (f *FieldCipher) Decrypt(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("decoding token: %w", err)
	}
	nonceSize := f.gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := f.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	return string(plaintext), nil
}

// HashSecret bcrypt-hashes a client secret for storage.
func HashSecret(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing secret: %w", err)
	}
	return string(h), nil
}

// CheckSecret verifies a plaintext secret against its bcrypt hash.
func CheckSecret(hashed, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(secret)) == nil
}

// Claims is the JWT payload issued by the token endpoint.
type Claims struct {
	ClientID string `json:"client_id"`
	GroupID  string `json:"group_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies client access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue mints a signed JWT for the given client.
func (t *TokenIssuer) Issue(clientID, groupID string) (string, time.Time, error) {
	now := timeNow()
	expiresAt := now.Add(t.ttl)
	claims := Claims{
		ClientID: clientID,
		GroupID:  groupID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a bearer token, returning its claims.
func (t *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

// timeNow is indirected so tests can stub the clock that token issuing
// reads.
var timeNow = time.Now
