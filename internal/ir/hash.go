package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainEvent = "dispatch/event/v1"
	DomainCall  = "dispatch/call/v1"
)

// hashWithDomain computes SHA256(domain ‖ 0x00 ‖ data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventID computes the content-addressed id of an emitted event.
// The id covers the emitting call, the log position and the payload, so two
// identical payloads emitted by different calls never share an id.
func EventID(callID string, seq int64, emitter, name string, fields Object) (string, error) {
	obj := Object{
		"call_id": String(callID),
		"seq":     Int(seq),
		"emitter": String(emitter),
		"name":    String(name),
		"fields":  fields,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// CallDigest fingerprints the request half of a call record (sender, target,
// value, input). Replaying the same request sequence must reproduce the same
// digests.
func CallDigest(from, to, value, input string) string {
	canonical, err := MarshalCanonical(Object{
		"from":  String(from),
		"to":    String(to),
		"value": String(value),
		"input": String(input),
	})
	if err != nil {
		// Only strings are marshaled above; canonical encoding cannot fail.
		panic(err)
	}
	return hashWithDomain(DomainCall, canonical)
}
