// Package secrets implements the credential envelope used by the control
// plane: an outer header carrying the PBKDF2 salt and iteration count,
// wrapping a Fernet-layout token (AES-128-CBC + HMAC-SHA256).
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize     = 16
	fernetMarker = 0x80
)

// Encryptor derives per-message keys from a shared token.
type Encryptor struct {
	token      []byte
	iterations int
}

// New returns an Encryptor for the given shared token.
func New(token string, iterations int) *Encryptor {
	if iterations <= 0 {
		iterations = 100_000
	}
	return &Encryptor{token: []byte(token), iterations: iterations}
}

func (e *Encryptor) deriveKeys(salt []byte, iterations int) (signing, encryption []byte) {
	key := pbkdf2.Key(e.token, salt, iterations, 32, sha256.New)
	return key[:16], key[16:]
}

// Encrypt seals plaintext into an envelope token.
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("iv: %w", err)
	}
	signKey, encKey := e.deriveKeys(salt, e.iterations)

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	body := make([]byte, 0, 1+8+len(iv)+len(ct)+sha256.Size)
	body = append(body, fernetMarker)
	body = binary.BigEndian.AppendUint64(body, uint64(time.Now().Unix()))
	body = append(body, iv...)
	body = append(body, ct...)
	mac := hmac.New(sha256.New, signKey)
	mac.Write(body)
	body = mac.Sum(body)

	envelope := make([]byte, 0, saltSize+4+len(body))
	envelope = append(envelope, salt...)
	envelope = binary.BigEndian.AppendUint32(envelope, uint32(e.iterations))
	envelope = append(envelope, body...)
	return base64.URLEncoding.EncodeToString(envelope), nil
}

// Decrypt opens an envelope token produced by Encrypt (or by the control
// plane's equivalent implementation).
func (e *Encryptor) Decrypt(token string) ([]byte, error) {
	envelope, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(envelope) < saltSize+4+1+8+aes.BlockSize+sha256.Size {
		return nil, fmt.Errorf("envelope too short")
	}
	salt := envelope[:saltSize]
	iterations := int(binary.BigEndian.Uint32(envelope[saltSize : saltSize+4]))
	body := envelope[saltSize+4:]

	if body[0] != fernetMarker {
		return nil, fmt.Errorf("unexpected token version %#x", body[0])
	}
	signKey, encKey := e.deriveKeys(salt, iterations)

	macStart := len(body) - sha256.Size
	mac := hmac.New(sha256.New, signKey)
	mac.Write(body[:macStart])
	if subtle.ConstantTimeCompare(mac.Sum(nil), body[macStart:]) != 1 {
		return nil, fmt.Errorf("signature mismatch")
	}

	iv := body[1+8 : 1+8+aes.BlockSize]
	ct := body[1+8+aes.BlockSize : macStart]
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext not block aligned")
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	return pkcs7Unpad(pt, aes.BlockSize)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, fmt.Errorf("invalid padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
