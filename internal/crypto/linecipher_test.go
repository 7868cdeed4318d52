package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

// testKey returns a valid 32-byte key for use in tests.
func testKey() []byte {
	return bytes.Repeat([]byte("k"), 32)
}

func TestNewLineCipher(t *testing.T) {
	if _, err := NewLineCipher(testKey()); err != nil {
		t.Fatalf("NewLineCipher() unexpected error: %v", err)
	}

	for _, n := range []int{0, 16, 31, 33, 64} {
		if _, err := NewLineCipher(make([]byte, n)); !errors.Is(err, ErrKeyLengthInvalid) {
			t.Errorf("NewLineCipher(len=%d) error = %v, want %v", n, err, ErrKeyLengthInvalid)
		}
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	lc, err := NewLineCipher(testKey())
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte(`{"id":"e1","action":"user.login"}`)
	sealed, err := lc.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if bytes.Contains(sealed, []byte("\n")) {
		t.Error("sealed line contains a newline")
	}
	if bytes.Contains(sealed, []byte("user.login")) {
		t.Error("sealed line leaks plaintext")
	}

	got, err := lc.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Open() = %q, want %q", got, plaintext)
	}
}

func TestSeal_NonceVaries(t *testing.T) {
	lc, _ := NewLineCipher(testKey())
	a, _ := lc.Seal([]byte("same"))
	b, _ := lc.Seal([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("two seals of the same line produced identical ciphertext")
	}
}

func TestOpen_Errors(t *testing.T) {
	lc, _ := NewLineCipher(testKey())
	sealed, _ := lc.Seal([]byte("payload"))

	other, _ := NewLineCipher(bytes.Repeat([]byte("x"), 32))
	if _, err := other.Open(sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("wrong key error = %v, want %v", err, ErrDecryptionFailed)
	}

	if _, err := lc.Open([]byte("not base64!!")); !errors.Is(err, ErrCiphertextCorrupted) {
		t.Errorf("bad base64 error = %v, want %v", err, ErrCiphertextCorrupted)
	}

	short := []byte(base64.URLEncoding.EncodeToString([]byte("abc")))
	if _, err := lc.Open(short); !errors.Is(err, ErrCiphertextCorrupted) {
		t.Errorf("short input error = %v, want %v", err, ErrCiphertextCorrupted)
	}

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-5] ^= 0x01
	if _, err := lc.Open(tampered); err == nil {
		t.Error("Open() accepted tampered ciphertext")
	}
}

func TestDeriveLineCipher(t *testing.T) {
	salt := bytes.Repeat([]byte("s"), 16)
	a, err := DeriveLineCipher("correct horse", salt)
	if err != nil {
		t.Fatalf("DeriveLineCipher() error: %v", err)
	}
	b, _ := DeriveLineCipher("correct horse", salt)

	sealed, _ := a.Seal([]byte("entry"))
	if got, err := b.Open(sealed); err != nil || string(got) != "entry" {
		t.Errorf("same passphrase and salt should open: got %q, %v", got, err)
	}

	if _, err := DeriveLineCipher("pw", []byte("short")); !errors.Is(err, ErrSaltTooShort) {
		t.Errorf("short salt error = %v, want %v", err, ErrSaltTooShort)
	}
}

func TestFromSettings(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	lc, err := FromSettings("", "", "")
	if err != nil || lc != nil {
		t.Errorf("no settings = %v, %v; want nil, nil", lc, err)
	}

	if lc, err := FromSettings(key, "", ""); err != nil || lc == nil {
		t.Errorf("key only = %v, %v", lc, err)
	}

	if lc, err := FromSettings("", "passphrase", "0123456789abcdef"); err != nil || lc == nil {
		t.Errorf("passphrase = %v, %v", lc, err)
	}

	if _, err := FromSettings(key, "passphrase", "0123456789abcdef"); !errors.Is(err, ErrAmbiguousKey) {
		t.Errorf("both = %v, want %v", err, ErrAmbiguousKey)
	}

	if _, err := FromSettings("%%%", "", ""); !errors.Is(err, ErrKeyLengthInvalid) {
		t.Errorf("bad base64 = %v, want %v", err, ErrKeyLengthInvalid)
	}

	if _, err := FromSettings(base64.StdEncoding.EncodeToString([]byte("short")), "", ""); !errors.Is(err, ErrKeyLengthInvalid) {
		t.Errorf("short key = %v, want %v", err, ErrKeyLengthInvalid)
	}
}
