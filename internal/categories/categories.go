// Package categories imports the tender classification reference file.
package categories

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/pccwatch/tender-crawler/internal/tender"
)

// ImportFile loads the JSON reference file and upserts every entry. The
// import is idempotent; rerunning it never duplicates rows. It returns the
// number of entries written.
func ImportFile(ctx context.Context, store tender.Store, path string, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read categories file: %w", err)
	}

	var entries []tender.Category
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("parse categories file: %w", err)
	}

	imported := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		if entry.ID == "" || entry.Name == "" {
			logger.Warn("skipping malformed category entry",
				zap.String("id", entry.ID), zap.String("name", entry.Name))
			continue
		}
		if err := store.UpsertCategory(ctx, entry); err != nil {
			return imported, fmt.Errorf("import category %s: %w", entry.ID, err)
		}
		imported++
	}
	logger.Info("categories imported", zap.Int("count", imported), zap.String("file", path))
	return imported, nil
}
