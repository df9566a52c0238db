package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
)

// 受け付ける添付（診断書・許可書のスキャン）
var allowedTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
}

var (
	ErrTooLarge        = errors.New("document too large")
	ErrEmpty           = errors.New("document is empty")
	ErrUnsupportedType = errors.New("unsupported document type")
)

var refPattern = regexp.MustCompile(`^[0-9A-HJKMNP-TV-Z]{26}$`)

// Metadata: 本体の横に .json で保存する
type Metadata struct {
	Ref          string    `json:"ref"`
	OriginalName string    `json:"original_name,omitempty"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	UploadedBy   string    `json:"uploaded_by,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// LocalStore: ローカルディスク上の書類置き場。参照は ULID
type LocalStore struct {
	dir      string
	maxBytes int64
	now      func() time.Time
}

func NewLocalStore(dir string, maxBytes int64) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &LocalStore{dir: dir, maxBytes: maxBytes, now: time.Now}, nil
}

func (s *LocalStore) MaxBytes() int64 { return s.maxBytes }

// Store: 中身から MIME を判定し、許可された形式だけ保存する
func (s *LocalStore) Store(ctx context.Context, data []byte, meta Metadata) (Metadata, error) {
	if len(data) == 0 {
		return Metadata{}, ErrEmpty
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return Metadata{}, ErrTooLarge
	}
	mt := mimetype.Detect(data)
	ext := ""
	for ct, e := range allowedTypes {
		if mt.Is(ct) {
			meta.ContentType, ext = ct, e
			break
		}
	}
	if ext == "" {
		return Metadata{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mt.String())
	}
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	now := s.now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return Metadata{}, err
	}
	meta.Ref = id.String()
	meta.Size = int64(len(data))
	meta.UploadedAt = now

	if err := os.WriteFile(filepath.Join(s.dir, meta.Ref+ext), data, 0o640); err != nil {
		return Metadata{}, err
	}
	side, err := json.Marshal(meta)
	if err != nil {
		return Metadata{}, err
	}
	if err := os.WriteFile(s.metaPath(meta.Ref), side, 0o640); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// Exists: 出欠記録の document_ref 検証用
func (s *LocalStore) Exists(_ context.Context, ref string) (bool, error) {
	if !refPattern.MatchString(ref) {
		return false, nil
	}
	_, err := os.Stat(s.metaPath(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Lookup: メタデータの取得。無ければ fs.ErrNotExist
func (s *LocalStore) Lookup(_ context.Context, ref string) (Metadata, error) {
	if !refPattern.MatchString(ref) {
		return Metadata{}, fs.ErrNotExist
	}
	b, err := os.ReadFile(s.metaPath(ref))
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

func (s *LocalStore) metaPath(ref string) string {
	return filepath.Join(s.dir, ref+".json")
}
