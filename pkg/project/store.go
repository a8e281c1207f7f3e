// Copyright 2026 Atelier Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package project owns the per-workflow on-disk project layout: a
// directory with src/ and tests/ subtrees, documentation at the root,
// and a .project.json metadata file. All writes are atomic and
// serialized per project.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/log"
	"github.com/atelierhq/atelier/pkg/extract"
)

const (
	metadataFile = ".project.json"
	dirPerm      = 0o700
	filePerm     = 0o600

	taskPrefixLen = 40
)

// FileRecord describes one file in the project metadata.
type FileRecord struct {
	RelPath   string    `json:"path"`
	IsTest    bool      `json:"is_test"`
	SizeBytes int64     `json:"size_bytes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Metadata is the .project.json blob.
type Metadata struct {
	Name       string       `json:"name"`
	WorkflowID string       `json:"workflow_id"`
	Task       string       `json:"task"`
	CreatedAt  time.Time    `json:"created_at"`
	Files      []FileRecord `json:"files"`
}

// Project is a handle to one on-disk project. Safe for concurrent use;
// writes are serialized by an internal lock.
type Project struct {
	mu     sync.Mutex
	root   string
	meta   Metadata
	logger *zap.Logger
	closed bool
}

// WriteResult reports the outcome of a single artifact write.
type WriteResult struct {
	// RelPath is the final project-relative path, after subtree placement.
	RelPath string
	// Bytes is the number of bytes written.
	Bytes int64
	// Replaced is true when an earlier write to the same path was
	// overwritten.
	Replaced bool
}

// Store creates and reopens projects under a base directory.
// Base-directory creation is idempotent and safe to race.
type Store struct {
	baseDir string
}

// NewStore creates a project store rooted at baseDir.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create project base dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// BaseDir returns the configured base directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

var unsafeNameRe = regexp.MustCompile(`[^a-z0-9]+`)

// sanitizeTaskPrefix turns a task string into a directory-name prefix.
func sanitizeTaskPrefix(task string) string {
	name := unsafeNameRe.ReplaceAllString(strings.ToLower(task), "_")
	name = strings.Trim(name, "_")
	if len(name) > taskPrefixLen {
		name = name[:taskPrefixLen]
		name = strings.Trim(name, "_")
	}
	if name == "" {
		name = "project"
	}
	return name
}

// OpenOrCreate creates a project directory for a workflow and seeds its
// metadata and README. The directory name is <task prefix>_<short random>.
func (s *Store) OpenOrCreate(workflowID, task string) (*Project, error) {
	name := fmt.Sprintf("%s_%s", sanitizeTaskPrefix(task), uuid.NewString()[:8])
	root := filepath.Join(s.baseDir, name)

	for _, dir := range []string{root, filepath.Join(root, "src"), filepath.Join(root, "tests")} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create project dir: %w", err)
		}
	}

	p := &Project{
		root: root,
		meta: Metadata{
			Name:       name,
			WorkflowID: workflowID,
			Task:       task,
			CreatedAt:  time.Now().UTC(),
		},
		logger: log.With(zap.String("project", name)),
	}

	if err := p.writeMetadataLocked(); err != nil {
		return nil, err
	}
	if err := p.writeFileAtomic("README.md", []byte(initialReadme(task, name))); err != nil {
		return nil, fmt.Errorf("failed to write README: %w", err)
	}
	p.logger.Info("project created", zap.String("root", root))
	return p, nil
}

// Open reopens an existing project directory from its metadata file.
func (s *Store) Open(name string) (*Project, error) {
	root := filepath.Join(s.baseDir, name)
	data, err := os.ReadFile(filepath.Join(root, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read project metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse project metadata: %w", err)
	}
	return &Project{
		root:   root,
		meta:   meta,
		logger: log.With(zap.String("project", meta.Name)),
	}, nil
}

// Name returns the project directory name.
func (p *Project) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meta.Name
}

// Root returns the absolute project root.
func (p *Project) Root() string {
	return p.root
}

// Task returns the originating task.
func (p *Project) Task() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meta.Task
}

// placement returns the final project-relative path for an artifact,
// applying the src/ and tests/ subtree rules.
func placement(relPath string, kind extract.Kind) string {
	switch kind {
	case extract.KindTest:
		if strings.HasPrefix(relPath, "tests/") {
			return relPath
		}
		return "tests/" + strings.TrimPrefix(relPath, "src/")
	case extract.KindDoc:
		return relPath
	default:
		if strings.HasPrefix(relPath, "src/") {
			return relPath
		}
		return "src/" + relPath
	}
}

// Write persists one artifact atomically. Later writes to the same path
// replace earlier content (last-writer-wins).
func (p *Project) Write(relPath, contents string, kind extract.Kind) (*WriteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("project %s is closed", p.meta.Name)
	}

	final := placement(relPath, kind)
	target := filepath.Join(p.root, filepath.FromSlash(final))

	// Defense in depth: placement never introduces traversal, but the
	// extractor's sanitization is re-checked here.
	if !strings.HasPrefix(target, p.root+string(os.PathSeparator)) {
		return nil, fmt.Errorf("path %q escapes project root", relPath)
	}

	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	if err := p.writeFileAtomic(final, []byte(contents)); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := FileRecord{
		RelPath:   final,
		IsTest:    kind == extract.KindTest,
		SizeBytes: int64(len(contents)),
		UpdatedAt: now,
	}
	replaced := false
	for i := range p.meta.Files {
		if p.meta.Files[i].RelPath == final {
			p.meta.Files[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		p.meta.Files = append(p.meta.Files, record)
	}
	if err := p.writeMetadataLocked(); err != nil {
		return nil, err
	}

	p.logger.Debug("artifact written",
		zap.String("path", final),
		zap.Int("bytes", len(contents)),
		zap.Bool("replaced", replaced),
	)
	return &WriteResult{RelPath: final, Bytes: int64(len(contents)), Replaced: replaced}, nil
}

// Snapshot returns the current file list, sorted by path. The snapshot
// reflects the last successful write per path.
func (p *Project) Snapshot() []FileRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	files := make([]FileRecord, len(p.meta.Files))
	copy(files, p.meta.Files)
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files
}

// ReadFile reads a project file by its project-relative path.
func (p *Project) ReadFile(relPath string) ([]byte, error) {
	target := filepath.Join(p.root, filepath.FromSlash(relPath))
	if !strings.HasPrefix(target, p.root+string(os.PathSeparator)) {
		return nil, fmt.Errorf("path %q escapes project root", relPath)
	}
	return os.ReadFile(target)
}

// Close marks the handle closed. The directory persists on disk.
func (p *Project) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// writeFileAtomic writes to a temp file in the target's directory,
// fsyncs, then renames over the target.
func (p *Project) writeFileAtomic(relPath string, data []byte) error {
	target := filepath.Join(p.root, filepath.FromSlash(relPath))

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (p *Project) writeMetadataLocked() error {
	data, err := json.MarshalIndent(p.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := p.writeFileAtomic(metadataFile, data); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}
