package coordinator

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/dSpringOnion/clidistcachelayer/internal/ring"
)

// persistedState is the on-disk shape written atomically after every
// ring mutation.
type persistedState struct {
	RingVersion  uint64            `json:"ring_version"`
	VirtualNodes int               `json:"virtual_nodes"`
	Nodes        map[string]NodeRecord `json:"nodes"`
	RingNodes    []ring.Node       `json:"ring_nodes"`
}

// saveState writes state to path by writing a temp file in the same
// directory and renaming it into place, so a crash mid-write never
// leaves a corrupt state file (same idiom as the snapshot store).
func saveState(path string, state persistedState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// loadState reads path back. Absence of the file is not an error: it
// means an empty cluster.
func loadState(path string) (persistedState, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return persistedState{}, false, nil
		}
		return persistedState{}, false, err
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return persistedState{}, false, err
	}
	return state, true, nil
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
