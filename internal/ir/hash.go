package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainGraph  = "quantflow/graph/v1"
	DomainTensor = "quantflow/tensor/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// GraphDigest returns the content digest of a module's GraphDef.
// Two modules with the same digest serialize to identical bytes.
func GraphDigest(m *Module) (string, error) {
	data, err := m.GraphDef()
	if err != nil {
		return "", fmt.Errorf("GraphDigest: %w", err)
	}
	return hashWithDomain(DomainGraph, data), nil
}

// TensorDigest returns the content digest of a tensor value.
func TensorDigest(t *Tensor) (string, error) {
	data, err := MarshalCanonical(t.ToIR())
	if err != nil {
		return "", fmt.Errorf("TensorDigest: %w", err)
	}
	return hashWithDomain(DomainTensor, data), nil
}

// MustGraphDigest is like GraphDigest but panics on error.
// Use only in tests or when the module is known to be valid.
func MustGraphDigest(m *Module) string {
	d, err := GraphDigest(m)
	if err != nil {
		panic(err)
	}
	return d
}
