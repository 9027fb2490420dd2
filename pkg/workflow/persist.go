package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/thin-edge/tedge-core/pkg/errors"
	"github.com/thin-edge/tedge-core/pkg/storage/file"
)

// FilePersister persists the command board as a single JSON document via a
// file.FileStore, whose Write implementations write-to-temp-then-rename
// (spec §5: "on-disk state files are written atomically ... to guarantee
// crash consistency").
type FilePersister struct {
	store file.FileStore
	path  string
}

// NewFilePersister creates a persister that stores the board at path within
// store.
func NewFilePersister(store file.FileStore, path string) *FilePersister {
	return &FilePersister{store: store, path: path}
}

func (p *FilePersister) Save(ctx context.Context, states []CommandState) error {
	buf, err := json.Marshal(states)
	if err != nil {
		return errors.Storage("failed to marshal command board", err)
	}
	if err := p.store.Write(ctx, p.path, bytes.NewReader(buf)); err != nil {
		return errors.Storage("failed to write command board", err)
	}
	return nil
}

func (p *FilePersister) Load(ctx context.Context) ([]CommandState, error) {
	rc, err := p.store.Read(ctx, p.path)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, nil
		}
		return nil, errors.Storage("failed to read command board", err)
	}
	defer rc.Close()

	buf, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Storage("failed to read command board contents", err)
	}
	if len(buf) == 0 {
		return nil, nil
	}

	var states []CommandState
	if err := json.Unmarshal(buf, &states); err != nil {
		return nil, errors.Storage("failed to parse command board", err)
	}
	return states, nil
}
