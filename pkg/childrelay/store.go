package childrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/thin-edge/tedge-core/pkg/errors"
	"github.com/thin-edge/tedge-core/pkg/storage/file"
)

// EntryStore persists Entry records, one file per operation id, under
// `<data>/firmware/<operation_id>.json` (spec §6 "Persisted files").
type EntryStore struct {
	store file.FileStore
	dir   string
}

// NewEntryStore creates an entry store rooted at dir within store.
func NewEntryStore(store file.FileStore, dir string) *EntryStore {
	return &EntryStore{store: store, dir: strings.TrimSuffix(dir, "/")}
}

func (s *EntryStore) path(operationID string) string {
	return s.dir + "/" + operationID + ".json"
}

// Save writes entry, overwriting any prior record for the same operation id.
func (s *EntryStore) Save(ctx context.Context, entry Entry) error {
	buf, err := json.Marshal(entry)
	if err != nil {
		return errors.Storage("failed to marshal child operation entry", err)
	}
	if err := s.store.Write(ctx, s.path(entry.OperationID), bytes.NewReader(buf)); err != nil {
		return errors.Storage("failed to write child operation entry", err)
	}
	return nil
}

// Delete removes the persisted entry for operationID, if any.
func (s *EntryStore) Delete(ctx context.Context, operationID string) error {
	if err := s.store.Delete(ctx, s.path(operationID)); err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil
		}
		return errors.Storage("failed to delete child operation entry", err)
	}
	return nil
}

// LoadAll returns every persisted entry, for restart resumption (spec §8
// property 6 applies to child operations too: a crash must not silently
// forget a pending request).
func (s *EntryStore) LoadAll(ctx context.Context) ([]Entry, error) {
	infos, err := s.store.List(ctx, s.dir, file.ListOptions{})
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, nil
		}
		return nil, errors.Storage("failed to list child operation entries", err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if info.IsDir {
			continue
		}
		rc, err := s.store.Read(ctx, info.Path)
		if err != nil {
			return nil, errors.Storage("failed to read child operation entry "+info.Path, err)
		}
		buf, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errors.Storage("failed to read child operation entry contents", err)
		}
		var entry Entry
		if err := json.Unmarshal(buf, &entry); err != nil {
			return nil, errors.Storage("failed to parse child operation entry "+info.Path, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
