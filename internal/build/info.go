package build

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/zot/zipenv/internal/bundle"
	"github.com/zot/zipenv/internal/loader"
)

// InfoFile is the build information's name at the archive root.
const InfoFile = "zipenv.yaml"

// Info describes how an archive was built.
type Info struct {
	EntryPoint   string    `yaml:"entry_point"`
	Requirements []string  `yaml:"requirements,omitempty"`
	BuildID      string    `yaml:"build_id"`
	Created      time.Time `yaml:"created"`
	Platform     string    `yaml:"platform"`
	Suffixes     []string  `yaml:"suffixes"`
	Compression  string    `yaml:"compression"`
	Entries      []string  `yaml:"entries"`
}

// NewInfo returns build information for this platform with a fresh build id.
func NewInfo(entryPoint EntryPoint, requirements []string, compression bundle.Compression) *Info {
	if compression == "" {
		compression = bundle.CompressionDeflate
	}
	return &Info{
		EntryPoint:   entryPoint.String(),
		Requirements: requirements,
		BuildID:      uuid.NewString(),
		Created:      time.Now().UTC().Truncate(time.Second),
		Platform:     runtime.GOOS + "/" + runtime.GOARCH,
		Suffixes:     loader.Suffixes(),
		Compression:  string(compression),
	}
}

// Write stores the information in dir.
func (i *Info) Write(dir string) error {
	data, err := yaml.Marshal(i)
	if err != nil {
		return fmt.Errorf("failed to encode build info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, InfoFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write build info: %w", err)
	}
	return nil
}

// ReadInfo reads the build information stored in an archive.
func ReadInfo(archive *bundle.Archive) (*Info, error) {
	data, err := archive.ReadFile(InfoFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read build info: %w", err)
	}
	var info Info
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", InfoFile, err)
	}
	return &info, nil
}
