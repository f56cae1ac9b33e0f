package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/store"
)

// JSON renders records as a pretty-printed array. The same shape is accepted
// back by the restore endpoint, so this doubles as the backup format.
func JSON(records []store.Record) (*Result, error) {
	if records == nil {
		records = []store.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export json: %w", err)
	}
	return &Result{
		Data:     data,
		Filename: "ho_so_" + time.Now().Format("2006-01-02") + ".json",
		MimeType: "application/json",
	}, nil
}
