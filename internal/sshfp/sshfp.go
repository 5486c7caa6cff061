// Package sshfp parses and validates SSHFP DNS resource records against a
// dialed SSH host key.
package sshfp

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Algorithm identifies the public-key algorithm an SSHFP record was
// published for.
type Algorithm int

const (
	AlgorithmUnset Algorithm = iota
	AlgorithmRSA
	AlgorithmDSA
	AlgorithmECDSA
	AlgorithmEd25519
)

func algorithmFromInt(n int) Algorithm {
	switch n {
	case 1:
		return AlgorithmRSA
	case 2:
		return AlgorithmDSA
	case 3:
		return AlgorithmECDSA
	case 4:
		return AlgorithmEd25519
	default:
		return AlgorithmUnset
	}
}

// HashType identifies the fingerprint hash algorithm.
type HashType int

const (
	HashUnset HashType = iota
	HashReserved
	HashSHA1
	HashSHA256
)

func hashTypeFromInt(n int) HashType {
	switch n {
	case 0:
		return HashReserved
	case 1:
		return HashSHA1
	case 2:
		return HashSHA256
	default:
		return HashUnset
	}
}

// hashPriority lists the hash types Validate will accept. SHA-256 (hash
// type 2) records are parsed and stored like any other, but this validator
// does not yet compute SHA-256 fingerprints: an RRset that publishes only
// SHA-256 fingerprints for a key's algorithm has no hash type this
// validator can check and yields Insufficient, matching spec.md's "SHA-256
// only ... INSUFFICIENT (until SHA-256 support is added)".
var hashPriority = []HashType{HashSHA1}

// Fingerprint is one parsed SSHFP record.
type Fingerprint struct {
	Algorithm   Algorithm
	Hash        HashType
	Fingerprint []byte
}

// RecordSet holds every parsed fingerprint keyed by (algorithm, hash).
type RecordSet struct {
	byKey map[Algorithm]map[HashType][]byte
}

// NewRecordSet returns an empty RecordSet.
func NewRecordSet() *RecordSet {
	return &RecordSet{byKey: make(map[Algorithm]map[HashType][]byte)}
}

func (rs *RecordSet) add(fp Fingerprint) {
	if fp.Algorithm == AlgorithmUnset || fp.Hash == HashUnset {
		return
	}
	byHash, ok := rs.byKey[fp.Algorithm]
	if !ok {
		byHash = make(map[HashType][]byte)
		rs.byKey[fp.Algorithm] = byHash
	}
	byHash[fp.Hash] = fp.Fingerprint
}

// Parse decodes one or more SSHFP presentation-format lines (either
// canonical "<algo> <hash> <hex>" or generic "\# <size> <hex>") into a
// RecordSet. A line that fails to parse is skipped; Parse returns false
// only if the input yields not a single usable record.
func Parse(lines []string) (*RecordSet, bool) {
	rs := NewRecordSet()
	any := false
	for _, line := range lines {
		if fp, ok := parseLine(line); ok {
			rs.add(fp)
			any = true
		}
	}
	return rs, any
}

func parseLine(line string) (Fingerprint, bool) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return Fingerprint{}, false
	}
	if fields[0] == `\#` {
		return parseGeneric(fields)
	}
	return parseCanonical(fields)
}

// parseCanonical handles "<algo-int> <hash-type-int> <hex-fingerprint>",
// where the hex may contain ':' separators alongside whitespace.
func parseCanonical(fields []string) (Fingerprint, bool) {
	if len(fields) < 3 {
		return Fingerprint{}, false
	}
	algoN, err := strconv.Atoi(fields[0])
	if err != nil {
		return Fingerprint{}, false
	}
	hashN, err := strconv.Atoi(fields[1])
	if err != nil {
		return Fingerprint{}, false
	}
	hexStr := strings.ReplaceAll(strings.Join(fields[2:], ""), ":", "")
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return Fingerprint{}, false
	}
	return Fingerprint{
		Algorithm:   algorithmFromInt(algoN),
		Hash:        hashTypeFromInt(hashN),
		Fingerprint: raw,
	}, true
}

// parseGeneric handles "\# <size-decimal> <hex-bytes>" where the decoded
// bytes are [algo, hash-type, ...fingerprint], minimum 3 bytes.
func parseGeneric(fields []string) (Fingerprint, bool) {
	if len(fields) < 3 {
		return Fingerprint{}, false
	}
	size, err := strconv.Atoi(fields[1])
	if err != nil {
		return Fingerprint{}, false
	}
	hexStr := strings.Join(fields[2:], "")
	raw, err := hex.DecodeString(hexStr)
	if err != nil || len(raw) != size || len(raw) < 3 {
		return Fingerprint{}, false
	}
	return Fingerprint{
		Algorithm:   algorithmFromInt(int(raw[0])),
		Hash:        hashTypeFromInt(int(raw[1])),
		Fingerprint: raw[2:],
	}, true
}

// HasAny reports whether any fingerprint was parsed into this RecordSet.
func (rs *RecordSet) HasAny() bool {
	return len(rs.byKey) > 0
}

// Result is the outcome of validating a server key against a RecordSet.
type Result int

const (
	Invalid Result = iota
	Valid
	Insufficient
)

// hashFingerprint computes the fingerprint of raw key bytes under h. Only
// SHA-1 is currently supported; see hashPriority.
func hashFingerprint(h HashType, keyBytes []byte) []byte {
	switch h {
	case HashSHA1:
		sum := sha1.Sum(keyBytes)
		return sum[:]
	default:
		return nil
	}
}

// Validate checks key against the fingerprints published for its
// algorithm. Only a published SHA-1 fingerprint can be checked; an RRset
// that has SHA-256 fingerprints but no SHA-1 one for the key's algorithm is
// Insufficient, not Valid.
func (rs *RecordSet) Validate(key ssh.PublicKey) Result {
	algo := algorithmForKeyType(key.Type())
	if algo == AlgorithmUnset {
		return Insufficient
	}
	byHash, ok := rs.byKey[algo]
	if !ok {
		return Insufficient
	}
	for _, h := range hashPriority {
		published, ok := byHash[h]
		if !ok {
			continue
		}
		computed := hashFingerprint(h, key.Marshal())
		if computed == nil {
			continue
		}
		if hexEqual(computed, published) {
			return Valid
		}
		return Invalid
	}
	return Insufficient
}

func hexEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func algorithmForKeyType(keyType string) Algorithm {
	switch keyType {
	case ssh.KeyAlgoRSA:
		return AlgorithmRSA
	case ssh.KeyAlgoDSA:
		return AlgorithmDSA
	case ssh.KeyAlgoECDSA256, ssh.KeyAlgoECDSA384, ssh.KeyAlgoECDSA521:
		return AlgorithmECDSA
	case ssh.KeyAlgoED25519:
		return AlgorithmEd25519
	default:
		return AlgorithmUnset
	}
}
