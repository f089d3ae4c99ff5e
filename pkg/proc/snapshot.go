package proc

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// SnapshotRegion is one region of a memory snapshot file. Exactly one of
// Data (hex, whitespace ignored) and File (path relative to the snapshot)
// must be set.
type SnapshotRegion struct {
	Addr uint64 `yaml:"addr"`
	Name string `yaml:"name,omitempty"`
	Data string `yaml:"data,omitempty"`
	File string `yaml:"file,omitempty"`
}

// Snapshot is the on disk description of a memory image.
type Snapshot struct {
	Regions []SnapshotRegion `yaml:"regions"`
}

// LoadSnapshot reads a YAML snapshot description from path and builds the
// memory it describes.
func LoadSnapshot(path string) (*SplicedMemory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("could not decode snapshot %s: %v", path, err)
	}
	return snap.Build(filepath.Dir(path))
}

// Build maps every region of the snapshot, resolving File regions relative
// to dir.
func (snap *Snapshot) Build(dir string) (*SplicedMemory, error) {
	mem := &SplicedMemory{}
	for i, region := range snap.Regions {
		var buf []byte
		switch {
		case region.Data != "" && region.File != "":
			return nil, fmt.Errorf("region %d: both data and file specified", i)
		case region.File != "":
			path := region.File
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, path)
			}
			var err error
			buf, err = os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("region %d: %v", i, err)
			}
		default:
			var err error
			buf, err = hex.DecodeString(strings.Join(strings.Fields(region.Data), ""))
			if err != nil {
				return nil, fmt.Errorf("region %d: %v", i, err)
			}
		}
		name := region.Name
		if name == "" {
			name = fmt.Sprintf("region%d", i)
		}
		mem.Add(NewBytesMemory(region.Addr, buf), region.Addr, uint64(len(buf)), name)
	}
	return mem, nil
}
