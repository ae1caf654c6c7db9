package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"

	"contentd/src/schema"
)

const defaultBcryptRounds = 12

// HashValue hashes a field value with bcrypt at the configured cost.
func HashValue(value string, rounds int) (string, error) {
	if rounds <= 0 {
		rounds = defaultBcryptRounds
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(value), rounds)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyHash compares a candidate value against a stored bcrypt hash.
func VerifyHash(hash, value string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(value)) == nil
}

// deriveKey stretches a per-field secret into a 32-byte AES key.
func deriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Encrypt seals a field value with AES-GCM, nonce prepended, base64 encoded.
func Encrypt(plaintext, secret string) (string, error) {
	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func Decrypt(encoded, secret string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// ApplyFieldSecurity hashes and encrypts annotated string fields in place,
// recursing into nested objects. It runs after validation, just before the
// storage write.
func ApplyFieldSecurity(doc map[string]any, fields []schema.FieldDefinition) error {
	if doc == nil {
		return nil
	}
	for i := range fields {
		field := &fields[i]
		value, present := doc[field.Name]
		if !present || value == nil {
			continue
		}

		switch {
		case field.Hashing != nil:
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("field %q: only string values can be hashed", field.Name)
			}
			hashed, err := HashValue(s, field.Hashing.Rounds)
			if err != nil {
				return fmt.Errorf("field %q: %w", field.Name, err)
			}
			doc[field.Name] = hashed

		case field.Encryption != nil && field.Encryption.SecretKey != "":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("field %q: only string values can be encrypted", field.Name)
			}
			sealed, err := Encrypt(s, field.Encryption.SecretKey)
			if err != nil {
				return fmt.Errorf("field %q: %w", field.Name, err)
			}
			doc[field.Name] = sealed

		case len(field.Fields) > 0:
			if nested, ok := value.(map[string]any); ok {
				if err := ApplyFieldSecurity(nested, field.Fields); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// RevealEncryptedFields decrypts annotated fields on the read path. Values
// that fail to decrypt are left as stored.
func RevealEncryptedFields(doc map[string]any, fields []schema.FieldDefinition) {
	if doc == nil {
		return
	}
	for i := range fields {
		field := &fields[i]
		value, present := doc[field.Name]
		if !present || value == nil {
			continue
		}

		if field.Encryption != nil && field.Encryption.SecretKey != "" {
			if s, ok := value.(string); ok {
				if plain, err := Decrypt(s, field.Encryption.SecretKey); err == nil {
					doc[field.Name] = plain
				}
			}
			continue
		}
		if len(field.Fields) > 0 {
			if nested, ok := value.(map[string]any); ok {
				RevealEncryptedFields(nested, field.Fields)
			}
		}
	}
}
