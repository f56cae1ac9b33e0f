package backup

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/store"
)

// flexRecord tolerates the legacy export shape where the provided papers
// were a single comma separated string under "documentsProvided".
type flexRecord struct {
	store.Record
	DocumentsProvided string `json:"documentsProvided"`
}

// DecodeRecords parses a restore payload. Both the current format
// (providedDocuments as a string array) and the legacy joined-string format
// are accepted; a record carrying both keeps the array.
func DecodeRecords(data []byte) ([]store.Record, error) {
	var flex []flexRecord
	if err := json.Unmarshal(data, &flex); err != nil {
		return nil, fmt.Errorf("decode records payload: %w", err)
	}

	records := make([]store.Record, 0, len(flex))
	for _, fr := range flex {
		rec := fr.Record
		if len(rec.ProvidedDocuments) == 0 && fr.DocumentsProvided != "" {
			rec.ProvidedDocuments = splitDocuments(fr.DocumentsProvided)
		}
		if rec.ProvidedDocuments == nil {
			rec.ProvidedDocuments = []string{}
		}
		records = append(records, rec)
	}
	return records, nil
}

func splitDocuments(joined string) []string {
	parts := strings.Split(joined, ",")
	docs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			docs = append(docs, p)
		}
	}
	return docs
}
