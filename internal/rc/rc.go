// Package rc reads the resource container descriptor of a pushed content
// repository and prepares its files for conversion.
package rc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// RC is the parsed resource container descriptor of a repository.
type RC struct {
	RepoName     string
	LangCode     string
	ResourceID   string
	ResourceType string
	Title        string
	InputFormat  string

	// Projects lists the content units the descriptor declares, in the
	// order the resource definition gives them.
	Projects []Project

	manifest map[string]any
}

// Project is one declared content unit (for scripture, one book).
type Project struct {
	Identifier string `yaml:"identifier"`
	Title      string `yaml:"title"`
	Path       string `yaml:"path"`
	Sort       int    `yaml:"sort"`
}

type descriptor struct {
	DublinCore struct {
		Identifier string `yaml:"identifier"`
		Title      string `yaml:"title"`
		Type       string `yaml:"type"`
		Format     string `yaml:"format"`
		Language   struct {
			Identifier string `yaml:"identifier"`
		} `yaml:"language"`
	} `yaml:"dublin_core"`
	Projects []Project `yaml:"projects"`
}

// Parse reads manifest.yaml from an unpacked repository tree. A repository
// without a descriptor is still usable: identifiers fall back to the repo
// name and the input format is inferred from the file tree.
func Parse(repoDir, repoName string) (*RC, error) {
	r := &RC{
		RepoName:     repoName,
		LangCode:     "en",
		ResourceID:   strings.ToLower(repoName),
		ResourceType: "bundle",
		Title:        repoName,
		manifest:     map[string]any{},
	}

	data, err := os.ReadFile(filepath.Join(repoDir, "manifest.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read manifest.yaml: %w", err)
		}
		r.InputFormat = inferFormat(repoDir)
		return r, nil
	}

	var desc descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to parse manifest.yaml: %w", err)
	}
	if err := yaml.Unmarshal(data, &r.manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest.yaml: %w", err)
	}

	if desc.DublinCore.Identifier != "" {
		r.ResourceID = desc.DublinCore.Identifier
	}
	if desc.DublinCore.Type != "" {
		r.ResourceType = desc.DublinCore.Type
	}
	if desc.DublinCore.Title != "" {
		r.Title = desc.DublinCore.Title
	}
	if desc.DublinCore.Language.Identifier != "" {
		r.LangCode = desc.DublinCore.Language.Identifier
	}
	r.Projects = desc.Projects

	r.InputFormat = formatExt(desc.DublinCore.Format)
	if r.InputFormat == "" {
		r.InputFormat = inferFormat(repoDir)
	}

	return r, nil
}

// ManifestJSON returns the full descriptor document as JSON for the
// manifest table.
func (r *RC) ManifestJSON() (string, error) {
	data, err := json.Marshal(r.manifest)
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	return string(data), nil
}

// formatExt maps a descriptor media type like "text/usfm" to the file
// extension used for converter matching.
func formatExt(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		return ""
	}
	if idx := strings.LastIndex(format, "/"); idx >= 0 {
		format = format[idx+1:]
	}
	switch format {
	case "markdown":
		return "md"
	default:
		return format
	}
}

// inferFormat guesses the input format from file extensions when the
// descriptor is missing or silent.
func inferFormat(dir string) string {
	counts := map[string]int{}
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".usfm":
			counts["usfm"]++
		case ".md":
			counts["md"]++
		case ".txt":
			counts["txt"]++
		}
		return nil
	})

	best, bestCount := "md", 0
	for ext, n := range counts {
		if n > bestCount {
			best, bestCount = ext, n
		}
	}
	return best
}
