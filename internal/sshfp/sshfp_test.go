package sshfp

import (
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func mustSigner(t *testing.T, key interface{}) ssh.Signer {
	t.Helper()
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("ssh.NewSignerFromKey: %s", err)
	}
	return signer
}

func testKeys(t *testing.T) (rsaKey, dsaKey, ecdsaKey ssh.PublicKey) {
	t.Helper()

	rk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa: %s", err)
	}

	var dk dsa.PrivateKey
	if err := dsa.GenerateParameters(&dk.Parameters, rand.Reader, dsa.L1024N160); err != nil {
		t.Fatalf("generate dsa params: %s", err)
	}
	if err := dsa.GenerateKey(&dk, rand.Reader); err != nil {
		t.Fatalf("generate dsa: %s", err)
	}

	ek, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ecdsa: %s", err)
	}

	return mustSigner(t, rk).PublicKey(), mustSigner(t, &dk).PublicKey(), mustSigner(t, ek).PublicKey()
}

func canonicalLine(algo, hash int, keyBytes []byte, useSHA256 bool) string {
	var sum []byte
	if useSHA256 {
		s := sha256.Sum256(keyBytes)
		sum = s[:]
	} else {
		s := sha1.Sum(keyBytes)
		sum = s[:]
	}
	return fmt.Sprintf("%d %d %s", algo, hash, hex.EncodeToString(sum))
}

func genericLine(algo, hash int, keyBytes []byte, useSHA256 bool) string {
	var sum []byte
	if useSHA256 {
		s := sha256.Sum256(keyBytes)
		sum = s[:]
	} else {
		s := sha1.Sum(keyBytes)
		sum = s[:]
	}
	raw := append([]byte{byte(algo), byte(hash)}, sum...)
	return fmt.Sprintf(`\# %d %s`, len(raw), hex.EncodeToString(raw))
}

// scenario 1: Good SSHFP -- all three keys validate.
func TestValidate_GoodFingerprints(t *testing.T) {
	rsaKey, dsaKey, ecdsaKey := testKeys(t)
	lines := []string{
		canonicalLine(1, 1, rsaKey.Marshal(), false),
		canonicalLine(2, 1, dsaKey.Marshal(), false),
		canonicalLine(3, 1, ecdsaKey.Marshal(), false),
	}
	rs, ok := Parse(lines)
	if !ok {
		t.Fatal("Parse: expected success")
	}
	for name, key := range map[string]ssh.PublicKey{"rsa": rsaKey, "dsa": dsaKey, "ecdsa": ecdsaKey} {
		if got := rs.Validate(key); got != Valid {
			t.Errorf("%s: got %v, want Valid", name, got)
		}
	}
}

// scenario 2: Bad SSHFP -- mutated first hex nibble makes every key INVALID.
func TestValidate_BadFingerprints(t *testing.T) {
	rsaKey, dsaKey, ecdsaKey := testKeys(t)
	lines := []string{
		mutateFirstNibble(canonicalLine(1, 1, rsaKey.Marshal(), false)),
		mutateFirstNibble(canonicalLine(2, 1, dsaKey.Marshal(), false)),
		mutateFirstNibble(canonicalLine(3, 1, ecdsaKey.Marshal(), false)),
	}
	rs, ok := Parse(lines)
	if !ok {
		t.Fatal("Parse: expected success")
	}
	for name, key := range map[string]ssh.PublicKey{"rsa": rsaKey, "dsa": dsaKey, "ecdsa": ecdsaKey} {
		if got := rs.Validate(key); got != Invalid {
			t.Errorf("%s: got %v, want Invalid", name, got)
		}
	}
}

func mutateFirstNibble(line string) string {
	fields := strings.Fields(line)
	hexPart := fields[len(fields)-1]
	if hexPart[0] == 'f' {
		hexPart = "0" + hexPart[1:]
	} else {
		hexPart = "f" + hexPart[1:]
	}
	fields[len(fields)-1] = hexPart
	return strings.Join(fields, " ")
}

// scenario 3: SHA-256-only records are INSUFFICIENT (until SHA-256
// support is added).
func TestValidate_SHA256Only(t *testing.T) {
	rsaKey, dsaKey, ecdsaKey := testKeys(t)
	lines := []string{
		canonicalLine(1, 2, rsaKey.Marshal(), true),
		canonicalLine(2, 2, dsaKey.Marshal(), true),
		canonicalLine(3, 2, ecdsaKey.Marshal(), true),
	}
	rs, ok := Parse(lines)
	if !ok {
		t.Fatal("Parse: expected success")
	}
	for name, key := range map[string]ssh.PublicKey{"rsa": rsaKey, "dsa": dsaKey, "ecdsa": ecdsaKey} {
		if got := rs.Validate(key); got != Insufficient {
			t.Errorf("%s: got %v, want Insufficient (SHA-256 not yet supported)", name, got)
		}
	}
}

// scenario 4: generic-form parsing is equivalent to canonical form.
func TestParse_GenericFormEquivalence(t *testing.T) {
	rsaKey, dsaKey, ecdsaKey := testKeys(t)
	lines := []string{
		genericLine(1, 1, rsaKey.Marshal(), false),
		genericLine(2, 1, dsaKey.Marshal(), false),
		genericLine(3, 1, ecdsaKey.Marshal(), false),
	}
	rs, ok := Parse(lines)
	if !ok {
		t.Fatal("Parse: expected success")
	}
	for name, key := range map[string]ssh.PublicKey{"rsa": rsaKey, "dsa": dsaKey, "ecdsa": ecdsaKey} {
		if got := rs.Validate(key); got != Valid {
			t.Errorf("%s: got %v, want Valid", name, got)
		}
	}
}

func TestValidate_NoRecords(t *testing.T) {
	rsaKey, _, _ := testKeys(t)
	rs := NewRecordSet()
	if got := rs.Validate(rsaKey); got != Insufficient {
		t.Errorf("got %v, want Insufficient", got)
	}
}
