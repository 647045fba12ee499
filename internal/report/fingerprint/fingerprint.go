// Package fingerprint computes the content hash anchored on the ledger for a report and
// the snapshot digest that identifies the feedback set a report was generated from.
//
// Both use Keccak-256 so a verifier with only an EVM toolchain can recompute them.
package fingerprint

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"civicproof/internal/report/models"
	id "civicproof/pkg/domain"
)

// Size is the fingerprint length in bytes.
const Size = 32

// Fingerprint is the Keccak-256 hash of a report's canonical content.
type Fingerprint [Size]byte

func (f Fingerprint) Hex() string {
	return "0x" + hex.EncodeToString(f[:])
}

// Parse decodes a 0x-prefixed hex fingerprint.
func Parse(s string) (Fingerprint, error) {
	var f Fingerprint
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return f, fmt.Errorf("decode fingerprint: %w", err)
	}
	if len(raw) != Size {
		return f, fmt.Errorf("fingerprint must be %d bytes, got %d", Size, len(raw))
	}
	copy(f[:], raw)
	return f, nil
}

// content is the canonical serialisation. Field order is part of the format: changing it
// changes every fingerprint.
type content struct {
	Category          string   `json:"category"`
	Location          string   `json:"location"`
	SourceFeedbackIDs []string `json:"source_feedback_ids"`
	Title             string   `json:"title"`
	Narrative         string   `json:"narrative"`
	Recommendations   []string `json:"recommendations"`
	Severity          string   `json:"severity"`
}

// Canonical returns the exact bytes that are hashed.
func Canonical(category, location string, sourceIDs []id.FeedbackID, title, narrative string, recommendations []string, severity models.Severity) ([]byte, error) {
	c := content{
		Category:          category,
		Location:          location,
		SourceFeedbackIDs: idStrings(sourceIDs),
		Title:             title,
		Narrative:         narrative,
		Recommendations:   recommendations,
		Severity:          string(severity),
	}
	if c.Recommendations == nil {
		c.Recommendations = []string{}
	}
	return json.Marshal(c)
}

// OfDraft fingerprints a draft.
func OfDraft(d *models.Draft) (Fingerprint, error) {
	raw, err := Canonical(d.Key.Category, d.Key.Location, d.SourceFeedbackIDs, d.Title, d.Narrative, d.Recommendations, d.Severity)
	if err != nil {
		return Fingerprint{}, err
	}
	return keccak(raw), nil
}

// OfReport fingerprints a persisted report from its immutable fields.
func OfReport(r *models.Report) (Fingerprint, error) {
	raw, err := Canonical(r.Key.Category, r.Key.Location, r.SourceFeedbackIDs, r.Title, r.Narrative, r.Recommendations, r.Severity)
	if err != nil {
		return Fingerprint{}, err
	}
	return keccak(raw), nil
}

// SnapshotDigest identifies an ordered feedback snapshot.
func SnapshotDigest(ids []id.FeedbackID) string {
	h := keccak([]byte(strings.Join(idStrings(ids), ",")))
	return h.Hex()
}

func keccak(data []byte) Fingerprint {
	var f Fingerprint
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(data)
	copy(f[:], h.Sum(nil))
	return f
}

func idStrings(ids []id.FeedbackID) []string {
	out := make([]string, len(ids))
	for i, fid := range ids {
		out[i] = fid.String()
	}
	return out
}
