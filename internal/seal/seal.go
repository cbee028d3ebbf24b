// Package seal encrypts submitted secrets under a fresh one-time unlock key.
//
// The unlock key is returned to the caller and never stored. The stored
// form is Ciphertext = IV || AES-128-CBC(PKCS#7(plaintext)) together with
// MAC = HMAC-SHA1(unlockKey, Ciphertext). Open checks the MAC before it
// decrypts, so a wrong key is rejected without touching the cipher.
package seal

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
)

// KeySize is the length of generated unlock keys in bytes.
const KeySize = 24

// aesKeySize selects AES-128; the leading bytes of the unlock key are used.
const aesKeySize = 16

var (
	// ErrMACMismatch is returned when the MAC does not match the key.
	ErrMACMismatch = errors.New("seal: mac mismatch")
	// ErrMalformed is returned for ciphertexts that cannot be decrypted.
	ErrMalformed = errors.New("seal: malformed ciphertext")
	// ErrKeySize is returned for unlock keys shorter than the AES key.
	ErrKeySize = errors.New("seal: unlock key too short")
)

// randReader is the entropy source; tests may swap it.
var randReader io.Reader = rand.Reader

// Sealed is the at-rest form of a secret.
type Sealed struct {
	Ciphertext []byte
	MAC        []byte
}

// NewKey returns KeySize random bytes.
func NewKey() ([]byte, error) {
	return RandomBytes(KeySize)
}

// RandomBytes returns n bytes from the package entropy source.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return nil, fmt.Errorf("seal: read random: %w", err)
	}
	return b, nil
}

// Seal encrypts plaintext under a freshly generated unlock key.
func Seal(plaintext []byte) (Sealed, []byte, error) {
	key, err := NewKey()
	if err != nil {
		return Sealed{}, nil, err
	}
	s, err := SealWithKey(plaintext, key)
	if err != nil {
		return Sealed{}, nil, err
	}
	return s, key, nil
}

// SealWithKey encrypts plaintext under key with a random IV.
func SealWithKey(plaintext, key []byte) (Sealed, error) {
	block, err := newBlock(key)
	if err != nil {
		return Sealed{}, err
	}
	iv, err := RandomBytes(aes.BlockSize)
	if err != nil {
		return Sealed{}, err
	}

	padded := pad(plaintext, aes.BlockSize)
	ct := make([]byte, aes.BlockSize+len(padded))
	copy(ct, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct[aes.BlockSize:], padded)

	return Sealed{Ciphertext: ct, MAC: Sum(key, ct)}, nil
}

// Sum returns HMAC-SHA1(key, ciphertext).
func Sum(key, ciphertext []byte) []byte {
	m := hmac.New(sha1.New, key)
	m.Write(ciphertext)
	return m.Sum(nil)
}

// VerifyMAC reports, in constant time, whether mac authenticates ciphertext
// under key.
func VerifyMAC(ciphertext, mac, key []byte) bool {
	if len(key) == 0 || len(mac) == 0 {
		return false
	}
	return hmac.Equal(Sum(key, ciphertext), mac)
}

// Open verifies the MAC and then decrypts.
func Open(s Sealed, key []byte) ([]byte, error) {
	if !VerifyMAC(s.Ciphertext, s.MAC, key) {
		return nil, ErrMACMismatch
	}
	return Decrypt(s.Ciphertext, key)
}

// Decrypt splits the IV prefix and decrypts the remainder. Callers must
// have verified the MAC first; Open does both.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < 2*aes.BlockSize || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrMalformed
	}
	iv, body := ciphertext[:aes.BlockSize], ciphertext[aes.BlockSize:]
	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, body)
	return unpad(out, aes.BlockSize)
}

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) < aesKeySize {
		return nil, ErrKeySize
	}
	return aes.NewCipher(key[:aesKeySize])
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrMalformed
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrMalformed
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrMalformed
		}
	}
	return b[:len(b)-n], nil
}
