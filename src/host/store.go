package host

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/dps_queryloop/src/vmtypes"
)

const metadataExtension = ".toml"

// ContractInfo is the metadata the host keeps per instance. It is written to
// <storage_dir>/contracts/<address>.toml when a storage dir is configured.
type ContractInfo struct {
	Address    vmtypes.Address `toml:"address"`
	CodeID     CodeID          `toml:"code_id"`
	CodeLabel  string          `toml:"code_label"`
	InstanceID uint64          `toml:"instance_id"`
	Creator    vmtypes.Address `toml:"creator"`
	Label      string          `toml:"label"`
	Created    time.Time       `toml:"created"`
	Migrated   time.Time       `toml:"migrated,omitempty"`
}

func (h *Host) metadataDir() string {
	return filepath.Join(h.config.StorageDir, "contracts")
}

// writeContractInfo persists info. Without a storage dir it is a no-op.
func (h *Host) writeContractInfo(info *ContractInfo) error {
	if h.config.StorageDir == "" {
		return nil
	}

	dir := h.metadataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	path := filepath.Join(dir, string(info.Address)+metadataExtension)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}

	encoder := toml.NewEncoder(f)
	encoder.Indent = "    "
	if err := encoder.Encode(info); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode contract info: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close metadata file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit metadata file: %w", err)
	}
	return nil
}

// readContractInfos loads every metadata file in the storage dir.
// Files that fail to decode are reported through skipped and left alone.
func (h *Host) readContractInfos() (infos []*ContractInfo, skipped []string, err error) {
	if h.config.StorageDir == "" {
		return nil, nil, nil
	}

	entries, err := os.ReadDir(h.metadataDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read metadata directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metadataExtension) {
			continue
		}

		var info ContractInfo
		if _, err := toml.DecodeFile(filepath.Join(h.metadataDir(), entry.Name()), &info); err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		if string(info.Address)+metadataExtension != entry.Name() {
			skipped = append(skipped, fmt.Sprintf("%s: address %q does not match file name", entry.Name(), info.Address))
			continue
		}
		infos = append(infos, &info)
	}

	return infos, skipped, nil
}
