// Package credential implements the provider/integration credential store:
// a JSON file with symmetric keyed-stream encryption over secret fields,
// plus the provider-auth resolution and snapshot state machine ported from
// the reference credential store and credential resolver.
package credential

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	schemaVersion    = 1
	encryptedPrefix  = "enc:v1:"
	nonceBytes       = 16
	tagBytes         = 32
	tagDomainString  = "pi-credential-store-v1"
)

// deriveKeyMaterial turns a passphrase into a 32-byte key via SHA-256,
// requiring at least 8 trimmed characters.
func deriveKeyMaterial(passphrase string) ([]byte, error) {
	trimmed := strings.TrimSpace(passphrase)
	if len(trimmed) < 8 {
		return nil, fmt.Errorf("credential: encryption passphrase must be at least 8 characters")
	}
	sum := sha256.Sum256([]byte(trimmed))
	return sum[:], nil
}

// deriveNonce builds a 16-byte nonce from the current unix timestamp, pid,
// and nanosecond clock reading, hashed with SHA-256 and truncated.
func deriveNonce() []byte {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(time.Now().Unix()))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(os.Getpid()))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(time.Now().UnixNano()))
	sum := sha256.Sum256(buf[:])
	return sum[:nonceBytes]
}

// xorWithKeyedStream XORs data against a SHA-256(key||nonce||counter)
// keystream, incrementing counter every 32-byte block.
func xorWithKeyedStream(key, nonce, data []byte) []byte {
	out := make([]byte, len(data))
	var counter uint64
	for offset := 0; offset < len(data); offset += sha256.Size {
		var counterBuf [8]byte
		binary.LittleEndian.PutUint64(counterBuf[:], counter)
		h := sha256.New()
		h.Write(key)
		h.Write(nonce)
		h.Write(counterBuf[:])
		block := h.Sum(nil)

		end := offset + sha256.Size
		if end > len(data) {
			end = len(data)
		}
		for i := offset; i < end; i++ {
			out[i] = data[i] ^ block[i-offset]
		}
		counter++
	}
	return out
}

// credentialStoreTag computes the integrity tag over key, nonce, ciphertext.
func credentialStoreTag(key, nonce, ciphertext []byte) []byte {
	h := sha256.New()
	h.Write(key)
	h.Write(nonce)
	h.Write(ciphertext)
	h.Write([]byte(tagDomainString))
	return h.Sum(nil)
}

func timingSafeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Encrypt wraps plaintext as "enc:v1:<base64(nonce||tag||ciphertext)>".
func Encrypt(passphrase, plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("credential: cannot encrypt empty secret")
	}
	key, err := deriveKeyMaterial(passphrase)
	if err != nil {
		return "", err
	}
	nonce := deriveNonce()
	ciphertext := xorWithKeyedStream(key, nonce, []byte(plaintext))
	tag := credentialStoreTag(key, nonce, ciphertext)

	payload := make([]byte, 0, nonceBytes+tagBytes+len(ciphertext))
	payload = append(payload, nonce...)
	payload = append(payload, tag...)
	payload = append(payload, ciphertext...)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt reverses Encrypt, verifying the integrity tag with a timing-safe
// comparison before returning the plaintext.
func Decrypt(passphrase, stored string) (string, error) {
	if !strings.HasPrefix(stored, encryptedPrefix) {
		return stored, nil // plaintext passthrough, matching the None-mode behavior
	}
	key, err := deriveKeyMaterial(passphrase)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("credential: malformed encrypted payload: %w", err)
	}
	if len(raw) < nonceBytes+tagBytes {
		return "", fmt.Errorf("credential: encrypted payload too short")
	}
	nonce := raw[:nonceBytes]
	tag := raw[nonceBytes : nonceBytes+tagBytes]
	ciphertext := raw[nonceBytes+tagBytes:]

	expectedTag := credentialStoreTag(key, nonce, ciphertext)
	if !timingSafeEqual(tag, expectedTag) {
		return "", fmt.Errorf("credential: integrity tag mismatch")
	}
	plaintext := xorWithKeyedStream(key, nonce, ciphertext)
	return string(plaintext), nil
}
