package persistence

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flowmesh/engine/internal/config"
	"github.com/flowmesh/engine/internal/engineerr"
)

// KeyGenerator mints and validates SuspensionKeys of the form
// [prefix]_[base36(timestamp)]_[encoded(random>=128 bits)]_[checksum6].
type KeyGenerator struct {
	prefix string
	format string // base64url | base32 | hex
}

func NewKeyGenerator(cfg config.KeyGenerationConfig) *KeyGenerator {
	format := cfg.Format
	if format == "" {
		format = "base64url"
	}
	return &KeyGenerator{prefix: cfg.Prefix, format: format}
}

// Generate mints a fresh, opaque URL-safe suspension key.
func (g *KeyGenerator) Generate() (string, error) {
	random := make([]byte, 16) // 128 bits
	if _, err := rand.Read(random); err != nil {
		return "", engineerr.Key("failed to generate random key material: %v", err)
	}

	ts := base36(time.Now().UnixMilli())
	encoded := g.encode(random)

	parts := []string{ts, encoded}
	joined := strings.Join(parts, "_")
	sum := keyChecksum(joined)

	segments := []string{}
	if g.prefix != "" {
		segments = append(segments, g.prefix)
	}
	segments = append(segments, ts, encoded, sum)
	return strings.Join(segments, "_"), nil
}

// Validate re-parses a key's components, checking encoding character class,
// timestamp sanity, and checksum — without consulting any backend.
func (g *KeyGenerator) Validate(key string) error {
	segments := strings.Split(key, "_")
	if g.prefix != "" {
		if len(segments) < 4 || segments[0] != g.prefix {
			return engineerr.Key("malformed suspension key: expected prefix %q", g.prefix)
		}
		segments = segments[1:]
	}
	if len(segments) < 3 {
		return engineerr.Key("malformed suspension key: expected timestamp_encoded_checksum")
	}

	// The base64url alphabet includes '_', so the random component may span
	// several segments; the timestamp and checksum never contain '_'.
	ts, sum := segments[0], segments[len(segments)-1]
	encoded := strings.Join(segments[1:len(segments)-1], "_")

	millis, err := strconv.ParseInt(ts, 36, 64)
	if err != nil {
		return engineerr.Key("malformed suspension key timestamp: %v", err)
	}
	when := time.UnixMilli(millis)
	if when.Year() < 2020 || when.Year() > 2050 {
		return engineerr.Key("suspension key timestamp %v is out of sane range", when)
	}

	if _, err := g.decode(encoded); err != nil {
		return engineerr.Key("malformed suspension key random component: %v", err)
	}

	want := keyChecksum(strings.Join([]string{ts, encoded}, "_"))
	if sum != want {
		return engineerr.Key("suspension key checksum mismatch")
	}

	return nil
}

func (g *KeyGenerator) encode(b []byte) string {
	switch g.format {
	case "base32":
		return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
	case "hex":
		return hex.EncodeToString(b)
	default:
		return base64.RawURLEncoding.EncodeToString(b)
	}
}

func (g *KeyGenerator) decode(s string) ([]byte, error) {
	switch g.format {
	case "base32":
		return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
	case "hex":
		return hex.DecodeString(s)
	default:
		return base64.RawURLEncoding.DecodeString(s)
	}
}

func base36(n int64) string {
	return strconv.FormatInt(n, 36)
}

// keyChecksum returns the first six hex characters of SHA-256 over s.
func keyChecksum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum[:])[:6]
}
