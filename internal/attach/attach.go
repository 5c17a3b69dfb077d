// Package attach stores raw file payloads and hands back descriptors.
// The core persists descriptors only, never file bytes.
package attach

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"deliverline/internal/domain"
)

// Upload is one incoming file payload.
type Upload struct {
	Name     string
	Mimetype string
	Reader   io.Reader
}

// Store persists file payloads and returns stored descriptors.
type Store interface {
	Save(entityKind, entityID, uploadedBy string, uploads []Upload) ([]domain.Attachment, error)
}

// FSStore writes payloads under a base directory, one subdirectory per
// entity.
type FSStore struct {
	Dir string
	Now func() time.Time
}

func NewFSStore(dir string) FSStore {
	if dir == "" {
		dir = filepath.Join(".deliverline", "attachments")
	}
	return FSStore{Dir: dir, Now: time.Now}
}

func (s FSStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s FSStore) Save(entityKind, entityID, uploadedBy string, uploads []Upload) ([]domain.Attachment, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	base := filepath.Join(s.Dir, entityKind, entityID)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	now := s.now().UTC().Format(time.RFC3339)
	var res []domain.Attachment
	for _, up := range uploads {
		name := sanitizeName(up.Name)
		if name == "" {
			return nil, fmt.Errorf("attachment name required")
		}
		id := uuid.New().String()
		path := filepath.Join(base, id+"_"+name)
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		size, err := io.Copy(f, up.Reader)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, err
		}
		res = append(res, domain.Attachment{
			ID:         id,
			EntityKind: entityKind,
			EntityID:   entityID,
			Name:       name,
			Path:       path,
			Mimetype:   up.Mimetype,
			Size:       size,
			UploadedBy: uploadedBy,
			CreatedAt:  now,
		})
	}
	return res, nil
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
