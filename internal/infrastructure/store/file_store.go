package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps each collection as a flat JSON array in <dir>/<collection>.json.
// Every operation reads the file and mutations rewrite it atomically, so the
// files can be inspected and edited by operators between requests.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates the data directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) path(collection string) string {
	return filepath.Join(fs.dir, collection+".json")
}

type idHeader struct {
	ID string `json:"id"`
}

func (fs *FileStore) load(collection string) ([]Document, error) {
	data, err := os.ReadFile(fs.path(collection))
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", collection, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", collection, err)
	}
	docs := make([]Document, 0, len(raws))
	for _, raw := range raws {
		var h idHeader
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, fmt.Errorf("failed to parse %s record: %w", collection, err)
		}
		docs = append(docs, Document{ID: h.ID, Data: raw})
	}
	return docs, nil
}

func (fs *FileStore) save(collection string, docs []Document) error {
	raws := make([]json.RawMessage, 0, len(docs))
	for _, d := range docs {
		raws = append(raws, d.Data)
	}
	data, err := json.MarshalIndent(raws, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", collection, err)
	}

	tmp, err := os.CreateTemp(fs.dir, collection+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", collection, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", collection, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", collection, err)
	}
	if err := os.Rename(tmp.Name(), fs.path(collection)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", collection, err)
	}
	return nil
}

func (fs *FileStore) All(_ context.Context, collection string) ([]json.RawMessage, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	docs, err := fs.load(collection)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Data)
	}
	return out, nil
}

func (fs *FileStore) FindByID(_ context.Context, collection, id string) (json.RawMessage, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	docs, err := fs.load(collection)
	if err != nil {
		return nil, false, err
	}
	for _, d := range docs {
		if d.ID == id {
			return d.Data, true, nil
		}
	}
	return nil, false, nil
}

func (fs *FileStore) Insert(_ context.Context, collection, id string, doc json.RawMessage) error {
	if id == "" {
		return ErrMissingID
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	docs, err := fs.load(collection)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if d.ID == id {
			return ErrDuplicateID
		}
	}
	return fs.save(collection, append(docs, Document{ID: id, Data: doc}))
}

func (fs *FileStore) Update(_ context.Context, collection, id string, doc json.RawMessage) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	docs, err := fs.load(collection)
	if err != nil {
		return false, err
	}
	for i := range docs {
		if docs[i].ID == id {
			docs[i].Data = doc
			return true, fs.save(collection, docs)
		}
	}
	return false, nil
}

func (fs *FileStore) Remove(_ context.Context, collection, id string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	docs, err := fs.load(collection)
	if err != nil {
		return false, err
	}
	for i := range docs {
		if docs[i].ID == id {
			docs = append(docs[:i], docs[i+1:]...)
			return true, fs.save(collection, docs)
		}
	}
	return false, nil
}

func (fs *FileStore) SaveAll(_ context.Context, collection string, docs []Document) error {
	for _, d := range docs {
		if d.ID == "" {
			return ErrMissingID
		}
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.save(collection, docs)
}
