package categories

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pccwatch/tender-crawler/internal/tender"
)

type categoryRecorder struct {
	tender.Store
	saved []tender.Category
}

func (r *categoryRecorder) UpsertCategory(_ context.Context, cat tender.Category) error {
	r.saved = append(r.saved, cat)
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tender_categories.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestImportFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, `[
		{"id": "104", "name": "教育服務", "category": "勞務類"},
		{"id": "327", "name": "傢俱", "category": "財物類"},
		{"id": "", "name": "malformed", "category": "x"}
	]`)

	rec := &categoryRecorder{}
	count, err := ImportFile(context.Background(), rec, path, nil)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, []tender.Category{
		{ID: "104", Name: "教育服務", Group: "勞務類"},
		{ID: "327", Name: "傢俱", Group: "財物類"},
	}, rec.saved)
}

func TestImportFileMissing(t *testing.T) {
	t.Parallel()

	_, err := ImportFile(context.Background(), &categoryRecorder{}, "/nope/missing.json", nil)
	require.Error(t, err)
}

func TestImportFileBadJSON(t *testing.T) {
	t.Parallel()

	path := writeFile(t, `{"not": "a list"}`)
	_, err := ImportFile(context.Background(), &categoryRecorder{}, path, nil)
	require.Error(t, err)
}
