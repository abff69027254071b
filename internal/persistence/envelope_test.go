package persistence

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/flowmesh/engine/internal/config"
)

func TestPipelineSealOpenRoundTripPlain(t *testing.T) {
	p, err := NewPipeline(config.PersistenceConfig{})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	payload := map[string]interface{}{"flow": "abc", "step": 3}

	env, err := p.Seal(payload, 0)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if env.Encrypted || env.Compressed {
		t.Error("expected small uncompressed, unencrypted payload to stay plain")
	}

	raw, err := p.Open(env)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out["flow"] != "abc" {
		t.Errorf("expected round-tripped flow field, got %v", out["flow"])
	}
}

func TestPipelineCompressesLargePayloads(t *testing.T) {
	p, err := NewPipeline(config.PersistenceConfig{})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	payload := map[string]interface{}{"blob": strings.Repeat("x", 4096)}

	env, err := p.Seal(payload, 0)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if !env.Compressed {
		t.Error("expected a >=1KB payload to be compressed")
	}
	if _, err := p.Open(env); err != nil {
		t.Fatalf("Open failed on compressed envelope: %v", err)
	}
}

func TestPipelineEncryptsWhenConfigured(t *testing.T) {
	p, err := NewPipeline(config.PersistenceConfig{Encryption: config.EncryptionConfig{Enabled: true}})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	env, err := p.Seal(map[string]interface{}{"secret": "value"}, 0)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if !env.Encrypted {
		t.Error("expected envelope to be encrypted")
	}
	if env.Algorithm != "aes-256-gcm" {
		t.Errorf("expected aes-256-gcm algorithm tag, got %q", env.Algorithm)
	}

	raw, err := p.Open(env)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out["secret"] != "value" {
		t.Errorf("expected decrypted secret, got %v", out["secret"])
	}
}

func TestPipelineOpenFailsOnKeyMismatch(t *testing.T) {
	p1, _ := NewPipeline(config.PersistenceConfig{Encryption: config.EncryptionConfig{
		Enabled: true,
		Key:     "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=",
	}})
	p2, _ := NewPipeline(config.PersistenceConfig{Encryption: config.EncryptionConfig{
		Enabled: true,
		Key:     "ZmVkY2JhOTg3NjU0MzIxMGZlZGNiYTk4NzY1NDMyMTA=",
	}})

	env, err := p1.Seal(map[string]interface{}{"x": 1}, 0)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, err := p2.Open(env); err == nil {
		t.Error("expected Open with a different key to fail")
	}
}

func TestPipelineOpenRejectsCorruptedChecksum(t *testing.T) {
	p, err := NewPipeline(config.PersistenceConfig{})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	env, err := p.Seal(map[string]interface{}{"x": 1}, 0)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	env.Checksum = "0000000000000000000000000000000000000000000000000000000000000000"
	if _, err := p.Open(env); err == nil {
		t.Error("expected a tampered checksum to be rejected on Open")
	}
}

func TestPipelineSealRejectsOversizedPayload(t *testing.T) {
	p, err := NewPipeline(config.PersistenceConfig{})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	_, err = p.Seal(map[string]interface{}{"blob": strings.Repeat("x", 100)}, 10)
	if err == nil {
		t.Error("expected Seal to reject a payload exceeding maxSizeBytes")
	}
}

func TestPipelineRejectsInvalidEncryptionKey(t *testing.T) {
	_, err := NewPipeline(config.PersistenceConfig{Encryption: config.EncryptionConfig{
		Enabled: true,
		Key:     "not-base64!!",
	}})
	if err == nil {
		t.Error("expected an invalid base64 key to fail pipeline construction")
	}
}
