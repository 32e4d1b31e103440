package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content checksums. The version suffix leaves room
// for future algorithm migration without ambiguity on the wire.
const (
	DomainJSONContent = "diffsync/json-content/v1"
	DomainTextContent = "diffsync/text-content/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Checksum computes the content checksum of a JSON value over its
// canonical serialization. Edits produced locally carry this value;
// inbound checksums are round-tripped, never verified.
func Checksum(v Value) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	return hashWithDomain(DomainJSONContent, canonical), nil
}

// ChecksumText computes the content checksum of plain-text content.
// The text is NFC normalized first so the checksum is stable across
// equivalent Unicode encodings.
func ChecksumText(s string) string {
	return hashWithDomain(DomainTextContent, []byte(norm.NFC.String(s)))
}
