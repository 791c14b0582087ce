package policy

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// DefaultPoliciesDir is the default directory for guardrail files relative
// to .planwing.
const DefaultPoliciesDir = "policies"

// GuardFile represents a loaded Rego guardrail file.
type GuardFile struct {
	// Path is the path to the policy file.
	Path string `json:"path"`
	// Name is the base name of the file without extension.
	Name string `json:"name"`
	// Content is the raw Rego source code.
	Content string `json:"content"`
}

// Loader scans and loads .rego guardrail files from the configured
// directory. It uses an afero.Fs interface for filesystem operations,
// enabling easy testing with in-memory filesystems.
type Loader struct {
	fs      afero.Fs
	baseDir string
}

// NewLoader creates a new guardrail loader using the provided filesystem.
// Use afero.NewOsFs() for real filesystem operations, or
// afero.NewMemMapFs() for testing.
func NewLoader(fs afero.Fs, baseDir string) *Loader {
	return &Loader{
		fs:      fs,
		baseDir: baseDir,
	}
}

// LoadAll loads all .rego files from the configured directory.
// Subdirectories are scanned recursively. A missing directory is not an
// error: it means no guardrails are configured.
func (l *Loader) LoadAll() ([]*GuardFile, error) {
	exists, err := afero.DirExists(l.fs, l.baseDir)
	if err != nil {
		return nil, fmt.Errorf("check policies directory: %w", err)
	}
	if !exists {
		return []*GuardFile{}, nil
	}

	var guards []*GuardFile

	err = afero.Walk(l.fs, l.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}

		g, err := l.loadFile(path)
		if err != nil {
			return fmt.Errorf("load policy %s: %w", path, err)
		}
		guards = append(guards, g)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk policies directory: %w", err)
	}

	return guards, nil
}

func (l *Loader) loadFile(path string) (*GuardFile, error) {
	file, err := l.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), ".rego")
	return &GuardFile{
		Path:    path,
		Name:    name,
		Content: string(content),
	}, nil
}

// GetPoliciesPath constructs the full path to the policies directory given
// a project root path.
func GetPoliciesPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".planwing", DefaultPoliciesDir)
}
