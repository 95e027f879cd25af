// Package history tracks recent tunnel activity so interactive pickers can
// surface the most used tunnels first.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mole-cli/mole/internal/appconfig"
	"github.com/mole-cli/mole/internal/model"
)

type store struct {
	LastUsed map[string]int64 `json:"last_used"`
}

func filePath() (string, error) {
	dir, err := appconfig.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.json"), nil
}

// Touch records activity for a tunnel name.
func Touch(name string) error {
	st, err := load()
	if err != nil {
		return err
	}
	if st.LastUsed == nil {
		st.LastUsed = map[string]int64{}
	}
	st.LastUsed[name] = time.Now().Unix()
	return save(st)
}

// LastUsed returns last activity timestamps by tunnel name.
func LastUsed() (map[string]int64, error) {
	st, err := load()
	if err != nil {
		return nil, err
	}
	return st.LastUsed, nil
}

// SortTunnelsRecent returns a new slice sorted by recent activity (desc), then name.
func SortTunnelsRecent(tunnels []model.Tunnel, lastUsed map[string]int64) []model.Tunnel {
	out := append([]model.Tunnel(nil), tunnels...)
	sort.Slice(out, func(i, j int) bool {
		ti := lastUsed[out[i].Name]
		tj := lastUsed[out[j].Name]
		if ti != tj {
			return ti > tj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Rename moves any recorded activity from one tunnel name to another.
func Rename(oldName, newName string) error {
	st, err := load()
	if err != nil {
		return err
	}
	ts, ok := st.LastUsed[oldName]
	if !ok {
		return nil
	}
	delete(st.LastUsed, oldName)
	st.LastUsed[newName] = ts
	return save(st)
}

func load() (store, error) {
	path, err := filePath()
	if err != nil {
		return store{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store{LastUsed: map[string]int64{}}, nil
		}
		return store{}, err
	}
	var st store
	if err := json.Unmarshal(b, &st); err != nil {
		return store{LastUsed: map[string]int64{}}, nil
	}
	if st.LastUsed == nil {
		st.LastUsed = map[string]int64{}
	}
	return st, nil
}

func save(st store) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
