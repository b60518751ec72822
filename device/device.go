package device

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const fileName = "device_id.json"

// Identity is the persisted device record.
type Identity struct {
	DeviceID  string `json:"deviceId"`
	CreatedAt int64  `json:"createdAt"`
}

// Resolve returns the device id for dir. Resolution order: override, the
// stored identity file, then a freshly generated id that is persisted.
func Resolve(dir, override string) (string, error) {
	if id := strings.TrimSpace(override); id != "" {
		return id, nil
	}

	path := filepath.Join(dir, fileName)
	if id, err := load(path); err == nil && id != "" {
		return id, nil
	}

	ident := Identity{
		DeviceID:  uuid.NewString(),
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := save(path, ident); err != nil {
		return "", err
	}
	return ident.DeviceID, nil
}

// Path returns the identity file location for dir.
func Path(dir string) string {
	return filepath.Join(dir, fileName)
}

func load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var ident Identity
	if err := json.Unmarshal(data, &ident); err != nil {
		return "", fmt.Errorf("parse %s: %w", path, err)
	}
	return strings.TrimSpace(ident.DeviceID), nil
}

func save(path string, ident Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(ident, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write device id: %w", err)
	}
	return os.Rename(tmp, path)
}
