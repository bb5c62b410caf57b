package deduplication

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strings"
	"sync"

	"telenotify/internal/constants"
	"telenotify/pkg/errors"
	"telenotify/pkg/models"
)

// KeyExtractor derives the dedup key of an alert from its event type, its origin and the
// configured payload fields. Two alerts that agree on all three get the same key.
type KeyExtractor struct {
	newHash func() hash.Hash

	mu     sync.RWMutex
	fields []string
}

func NewKeyExtractor(algorithm string, payloadFields []string) *KeyExtractor {
	e := &KeyExtractor{newHash: hashFunc(algorithm)}
	e.SetPayloadFields(payloadFields)
	return e
}

func hashFunc(algorithm string) func() hash.Hash {
	switch strings.ToLower(algorithm) {
	case "md5":
		return md5.New
	case "sha1":
		return sha1.New
	default:
		return sha256.New
	}
}

func (e *KeyExtractor) Extract(alert models.AlertEvent) (string, error) {
	if alert.EventType == "" || alert.OriginID == "" {
		return "", errors.ErrValidation.WithMessage("alert %q has no event type or origin id", alert.ID)
	}

	var b strings.Builder
	b.WriteString(alert.EventType)
	b.WriteByte('|')
	b.WriteString(alert.OriginID)

	for _, field := range e.PayloadFields() {
		b.WriteByte('|')
		b.WriteString(field)
		b.WriteByte('=')
		if value, ok := alert.Payload[field]; ok {
			b.WriteString(canonicalValue(value))
		}
	}

	h := e.newHash()
	h.Write([]byte(b.String()))
	return constants.CacheKeyPrefixDedup + hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalValue renders payload values through JSON so that 120 and 120.0 (decoded from
// the wire as float64) produce the same text and nested maps are key-sorted.
func canonicalValue(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func (e *KeyExtractor) PayloadFields() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	fields := make([]string, len(e.fields))
	copy(fields, e.fields)
	return fields
}

func (e *KeyExtractor) SetPayloadFields(fields []string) {
	fieldsCopy := make([]string, len(fields))
	copy(fieldsCopy, fields)

	e.mu.Lock()
	e.fields = fieldsCopy
	e.mu.Unlock()
}
