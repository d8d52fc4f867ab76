package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

const mediaDir = "media"

// MediaStore keeps generated narration and images next to the saves. Game
// states only hold the returned references, never the payloads.
type MediaStore struct {
	root   string
	engine *Engine
}

// NewMediaStore stores media under root/media.
func NewMediaStore(root string, engine *Engine) *MediaStore {
	if engine == nil {
		engine = NewEngine(nil)
	}
	return &MediaStore{root: root, engine: engine}
}

// Put writes data and returns a slash-separated reference relative to root.
// The file extension follows the detected content type.
func (m *MediaStore) Put(ctx context.Context, kind, id string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("empty media payload")
	}
	if strings.ContainsAny(kind+id, `/\`) {
		return "", fmt.Errorf("invalid media name %q/%q", kind, id)
	}

	mt := mimetype.Detect(data)
	ext := mt.Extension()
	if ext == "" {
		ext = ".bin"
	}
	ref := path.Join(mediaDir, id+"-"+kind+ext)

	if err := m.engine.writeFileAtomic(m.Resolve(ref), data, 0o644); err != nil {
		return "", ioFailure("save", ref, err)
	}
	m.engine.logger.Debug("media stored",
		zap.String("ref", ref),
		zap.String("mime", mt.String()),
		zap.Int("bytes", len(data)),
	)
	return ref, nil
}

// Resolve turns a reference into a file path.
func (m *MediaStore) Resolve(ref string) string {
	return filepath.Join(m.root, filepath.FromSlash(ref))
}
