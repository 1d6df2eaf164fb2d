package captcha

import (
	"image"
	"image/png"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// ArtifactStore writes challenge captures and region crops for offline
// inspection. When disabled every call is a no-op, so the solve path never
// branches on the debug flag. Write failures are logged, never fatal.
type ArtifactStore struct {
	dir     string
	enabled bool
	logger  *zap.Logger
}

// NewArtifactStore builds a store rooted at dir; enabled=false yields a
// no-op store.
func NewArtifactStore(dir string, enabled bool, logger *zap.Logger) *ArtifactStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactStore{dir: dir, enabled: enabled && dir != "", logger: logger}
}

// Enabled reports whether artifacts will be written.
func (a *ArtifactStore) Enabled() bool {
	return a != nil && a.enabled
}

// SaveImage writes img as <dir>/<name>.png.
func (a *ArtifactStore) SaveImage(name string, img image.Image) {
	if !a.Enabled() || img == nil {
		return
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		a.logger.Warn("create debug dir failed", zap.String("dir", a.dir), zap.Error(err))
		return
	}
	path := filepath.Join(a.dir, name+".png")
	f, err := os.Create(path)
	if err != nil {
		a.logger.Warn("create debug artifact failed", zap.String("path", path), zap.Error(err))
		return
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			a.logger.Warn("close debug artifact failed", zap.String("path", path), zap.Error(cerr))
		}
	}()
	if err := png.Encode(f, img); err != nil {
		a.logger.Warn("encode debug artifact failed", zap.String("path", path), zap.Error(err))
	}
}

// SaveCrop writes the rect slice of img as <dir>/<name>.png.
func (a *ArtifactStore) SaveCrop(name string, img image.Image, rect image.Rectangle) {
	if !a.Enabled() || img == nil {
		return
	}
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			crop.Set(x-rect.Min.X, y-rect.Min.Y, img.At(x, y))
		}
	}
	a.SaveImage(name, crop)
}
