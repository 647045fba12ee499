package anchor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"civicproof/internal/report/fingerprint"
)

// Magic prefixes every anchor transaction's data so indexers can find them.
const Magic = "CVP1"

// Metadata travels with the fingerprint. It identifies the report without revealing content.
type Metadata struct {
	ReportID string `json:"report_id"`
	Category string `json:"category"`
	Location string `json:"location"`
}

// EncodePayload lays out Magic, the 32 fingerprint bytes, then the JSON metadata.
func EncodePayload(fp fingerprint.Fingerprint, meta Metadata) ([]byte, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode anchor metadata: %w", err)
	}
	buf := make([]byte, 0, len(Magic)+fingerprint.Size+len(metaJSON))
	buf = append(buf, Magic...)
	buf = append(buf, fp[:]...)
	return append(buf, metaJSON...), nil
}

var errNotAnchorPayload = errors.New("transaction data is not an anchor payload")

func DecodePayload(data []byte) (fingerprint.Fingerprint, Metadata, error) {
	var (
		fp   fingerprint.Fingerprint
		meta Metadata
	)
	if len(data) < len(Magic)+fingerprint.Size || !bytes.HasPrefix(data, []byte(Magic)) {
		return fp, meta, errNotAnchorPayload
	}
	copy(fp[:], data[len(Magic):len(Magic)+fingerprint.Size])
	if err := json.Unmarshal(data[len(Magic)+fingerprint.Size:], &meta); err != nil {
		return fp, meta, fmt.Errorf("decode anchor metadata: %w", err)
	}
	return fp, meta, nil
}
