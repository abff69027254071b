// Package persistence implements the serialise/compress/encrypt pipeline and
// SuspensionKey handling that sits between the suspend controller and a
// pluggable StorageBackend.
package persistence

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/flowmesh/engine/internal/config"
	"github.com/flowmesh/engine/internal/engineerr"
)

const envelopeVersion = "1.0"

// Envelope is the persisted artefact: serialised (optionally
// compressed/encrypted) flow state plus integrity and versioning metadata.
type Envelope struct {
	Version      string `json:"version"`
	Data         string `json:"data"` // always base64: of the JSON text, of its gzip if Compressed, or of the ciphertext if Encrypted; never stored as plain JSON text
	Compressed   bool   `json:"compressed"`
	Encrypted    bool   `json:"encrypted"`
	Algorithm    string `json:"algorithm,omitempty"`
	KeyVersion   string `json:"keyVersion,omitempty"`
	IV           string `json:"iv,omitempty"`  // base64, present when Encrypted
	Tag          string `json:"tag,omitempty"` // base64 GCM tag, present when Encrypted
	SerializedAt int64  `json:"serializedAt"`
	Size         int    `json:"size"`
	Checksum     string `json:"checksum"`
}

// Pipeline runs serialise -> compress? -> encrypt? -> Envelope, and the
// symmetric path back, per the configured persistence options.
type Pipeline struct {
	cfg config.PersistenceConfig
	key []byte // resolved 32-byte key, nil if encryption disabled
}

func NewPipeline(cfg config.PersistenceConfig) (*Pipeline, error) {
	p := &Pipeline{cfg: cfg}
	if cfg.Encryption.Enabled {
		key, err := resolveKey(cfg.Encryption.Key)
		if err != nil {
			return nil, err
		}
		p.key = key
	}
	return p, nil
}

// resolveKey decodes an operator-supplied base64 32-byte key, or derives an
// explicitly insecure development key when none is configured.
func resolveKey(base64Key string) ([]byte, error) {
	if base64Key == "" {
		return devKey(), nil
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, engineerr.Key("ENCRYPTION_KEY is not valid base64: %v", err)
	}
	if len(key) != 32 {
		return nil, engineerr.Key("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// devKey derives an insecure, deterministic key for local development when
// no operator key is configured. Never use this in production.
func devKey() []byte {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte("flowmesh-engine-insecure-dev-seed"), nil, []byte("flowmesh-engine envelope dev key"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		panic("persistence: dev key derivation failed: " + err.Error())
	}
	return key
}

// Seal runs the full pipeline on an arbitrary serialisable value.
func (p *Pipeline) Seal(v interface{}, maxSizeBytes int) (*Envelope, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, engineerr.Persistence("failed to serialise suspension state: %v", err)
	}
	if maxSizeBytes > 0 && len(data) > maxSizeBytes {
		return nil, engineerr.StateTooLarge(len(data), maxSizeBytes)
	}

	env := &Envelope{
		Version:      envelopeVersion,
		SerializedAt: nowMillis(),
		Size:         len(data),
	}

	payload := data
	if len(data) >= 1024 {
		compressed, err := gzipCompress(data)
		if err != nil {
			return nil, engineerr.Persistence("failed to compress suspension state: %v", err)
		}
		payload = compressed
		env.Compressed = true
	}

	if p.key != nil {
		ciphertext, iv, tag, err := encryptGCM(p.key, payload)
		if err != nil {
			return nil, engineerr.Encryption("failed to encrypt suspension state: %v", err)
		}
		payload = ciphertext
		env.Encrypted = true
		env.Algorithm = "aes-256-gcm"
		env.KeyVersion = keyVersion(p.key)
		env.IV = base64.StdEncoding.EncodeToString(iv)
		env.Tag = base64.StdEncoding.EncodeToString(tag)
	}

	env.Data = base64.StdEncoding.EncodeToString(payload)
	env.Checksum = checksum(data)
	return env, nil
}

// Open runs the pipeline in reverse, verifying checksum and version.
func (p *Pipeline) Open(env *Envelope) (json.RawMessage, error) {
	if env.Version != envelopeVersion {
		return nil, engineerr.Corrupted("unsupported envelope version %q", env.Version)
	}

	payload, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, engineerr.Corrupted("envelope data is not valid base64: %v", err)
	}

	if env.Encrypted {
		if p.key == nil {
			return nil, engineerr.Encryption("envelope is encrypted but no key is configured")
		}
		if env.KeyVersion != keyVersion(p.key) {
			return nil, engineerr.Encryption("envelope key version %q is not available", env.KeyVersion)
		}
		iv, err := base64.StdEncoding.DecodeString(env.IV)
		if err != nil {
			return nil, engineerr.Corrupted("envelope iv is not valid base64: %v", err)
		}
		tag, err := base64.StdEncoding.DecodeString(env.Tag)
		if err != nil {
			return nil, engineerr.Corrupted("envelope tag is not valid base64: %v", err)
		}
		payload, err = decryptGCM(p.key, payload, iv, tag)
		if err != nil {
			return nil, engineerr.Encryption("decryption failed: %v", err)
		}
	}

	if env.Compressed {
		decompressed, err := gzipDecompress(payload)
		if err != nil {
			return nil, engineerr.Corrupted("failed to decompress envelope: %v", err)
		}
		payload = decompressed
	}

	if checksum(payload) != env.Checksum {
		return nil, engineerr.Corrupted("checksum mismatch: envelope may be corrupted")
	}

	return json.RawMessage(payload), nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func keyVersion(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:4])
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func encryptGCM(key, plaintext []byte) (ciphertext, iv, tag []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		return nil, nil, nil, err
	}
	iv = make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, nil, err
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext = sealed[:len(sealed)-gcm.Overhead()]
	tag = sealed[len(sealed)-gcm.Overhead():]
	return ciphertext, iv, tag, nil
}

func decryptGCM(key, ciphertext, iv, tag []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte(nil), ciphertext...), tag...)
	return gcm.Open(nil, iv, sealed, nil)
}

func nowMillis() int64 { return time.Now().UnixMilli() }
