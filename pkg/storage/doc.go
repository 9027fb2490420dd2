/*
Package storage groups the storage packages of the agent.

Subpackages:

  - file: the FileStore interface, with in-memory and local-disk adapters
    and an instrumented wrapper

Usage:

	import "github.com/thin-edge/tedge-core/pkg/storage/file/adapters/local"

	store, err := local.New("/var/tedge")
	err = store.Write(ctx, "board.json", bytes.NewReader(data))
*/
package storage
