package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"merchant-verification/internal/config"
	"merchant-verification/internal/util"

	"golang.org/x/crypto/argon2"
)

const (
	AlgorithmSHA256   = "sha256"
	AlgorithmArgon2id = "argon2id"
)

var (
	ErrInvalidHash      = errors.New("invalid hash format")
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher digests OTP codes together with the server salt. Encoded hashes are
// self-describing so a deployment can switch algorithms without invalidating
// challenges that are still live.
type Hasher struct {
	algorithm  string
	serverSalt string
	params     Argon2Params
}

func NewHasher(cfg config.HashingConfig) *Hasher {
	algorithm := strings.ToLower(cfg.Algorithm)
	if algorithm == "" {
		algorithm = AlgorithmSHA256
	}
	return &Hasher{
		algorithm:  algorithm,
		serverSalt: cfg.ServerSalt,
		params: Argon2Params{
			Memory:      uint32(cfg.Argon2MemoryCost),
			Iterations:  uint32(cfg.Argon2TimeCost),
			Parallelism: uint8(cfg.Argon2Parallelism),
			SaltLength:  16,
			KeyLength:   32,
		},
	}
}

func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// HashCode returns the encoded digest of code||serverSalt.
func (h *Hasher) HashCode(code string) (string, error) {
	switch h.algorithm {
	case AlgorithmSHA256:
		return AlgorithmSHA256 + "$" + h.sha256Hex(code), nil
	case AlgorithmArgon2id:
		salt := make([]byte, h.params.SaltLength)
		if _, err := rand.Read(salt); err != nil {
			return "", fmt.Errorf("failed to generate salt: %w", err)
		}
		key := argon2.IDKey([]byte(code+h.serverSalt), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
		return fmt.Sprintf("%s$%d$%d$%d$%s$%s",
			AlgorithmArgon2id,
			h.params.Memory, h.params.Iterations, h.params.Parallelism,
			base64.RawURLEncoding.EncodeToString(salt),
			base64.RawURLEncoding.EncodeToString(key),
		), nil
	default:
		return "", ErrUnknownAlgorithm
	}
}

// VerifyCode recomputes the digest of code and compares in constant time.
func (h *Hasher) VerifyCode(code, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	switch parts[0] {
	case AlgorithmSHA256:
		if len(parts) != 2 {
			return false, ErrInvalidHash
		}
		expected, err := hex.DecodeString(parts[1])
		if err != nil {
			return false, ErrInvalidHash
		}
		computed := h.sha256Sum(code)
		return subtle.ConstantTimeCompare(computed[:], expected) == 1, nil

	case AlgorithmArgon2id:
		if len(parts) != 6 {
			return false, ErrInvalidHash
		}
		var memory, iterations uint32
		var parallelism uint8
		if _, err := fmt.Sscanf(parts[1]+" "+parts[2]+" "+parts[3], "%d %d %d", &memory, &iterations, &parallelism); err != nil {
			return false, ErrInvalidHash
		}
		salt, err := base64.RawURLEncoding.DecodeString(parts[4])
		if err != nil {
			return false, ErrInvalidHash
		}
		expected, err := base64.RawURLEncoding.DecodeString(parts[5])
		if err != nil {
			return false, ErrInvalidHash
		}
		computed := argon2.IDKey([]byte(code+h.serverSalt), salt, iterations, memory, parallelism, uint32(len(expected)))
		return subtle.ConstantTimeCompare(computed, expected) == 1, nil
	}
	return false, ErrUnknownAlgorithm
}

func (h *Hasher) sha256Sum(code string) [sha256.Size]byte {
	return sha256.Sum256([]byte(code + h.serverSalt))
}

func (h *Hasher) sha256Hex(code string) string {
	sum := h.sha256Sum(code)
	return hex.EncodeToString(sum[:])
}

// Benchmark reports the average cost of one HashCode call.
func (h *Hasher) Benchmark(iterations int) time.Duration {
	if iterations <= 0 {
		return 0
	}
	start := time.Now()
	for i := 0; i < iterations; i++ {
		if _, err := h.HashCode(fmt.Sprintf("%06d", 100000+i%900000)); err != nil {
			util.Error("Hash benchmark failed", util.ErrorField(err))
			return 0
		}
	}
	return time.Since(start) / time.Duration(iterations)
}
