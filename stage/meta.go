package stage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// MetaSuffix is appended to a fragment path to locate its sidecar.
const MetaSuffix = ".meta.json"

// Metadata is the sidecar the fetcher writes next to each downloaded source.
type Metadata struct {
	URL        string    `json:"url"`
	Size       int64     `json:"size"`
	SHA256     string    `json:"sha256"`
	FetchedAt  time.Time `json:"fetched_at"`
	ModifiedAt time.Time `json:"modified_at,omitzero"`
}

// SidecarPath returns the sidecar location for a fragment.
func SidecarPath(fragment string) string {
	return fragment + MetaSuffix
}

// LoadMetadata reads the sidecar for fragment. It returns nil, nil when there
// is none.
func LoadMetadata(fragment string) (*Metadata, error) {
	data, err := os.ReadFile(SidecarPath(fragment))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sidecar: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse sidecar: %w", err)
	}
	return &m, nil
}

// SaveMetadata writes m as the sidecar of fragment.
func SaveMetadata(fragment string, m *Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	if err := os.WriteFile(SidecarPath(fragment), data, 0644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

// Verify reports whether the file at path still matches the recorded size
// and checksum. An empty checksum only compares sizes.
func (m *Metadata) Verify(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open fragment: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return false, fmt.Errorf("hash fragment: %w", err)
	}
	if m.Size > 0 && n != m.Size {
		return false, nil
	}
	if m.SHA256 == "" {
		return true, nil
	}
	return hex.EncodeToString(h.Sum(nil)) == m.SHA256, nil
}
