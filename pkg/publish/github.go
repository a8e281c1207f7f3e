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

// Package publish uploads a completed project tree to a remote
// code-hosting service as a new repository with a single commit.
package publish

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/log"
	"github.com/atelierhq/atelier/pkg/project"
)

const (
	// DefaultBaseURL is the GitHub REST v3 endpoint.
	DefaultBaseURL = "https://api.github.com"

	// addressableDeadline bounds the wait for a freshly created
	// repository to become fetchable.
	addressableDeadline = 10 * time.Second
	addressablePoll     = 500 * time.Millisecond
)

// ErrNameConflict indicates the remote already has a repository with the
// candidate name. Handled internally with one timestamp-suffixed retry.
var ErrNameConflict = errors.New("repository name conflict")

// Result reports a successful publication.
type Result struct {
	RepositoryURL string `json:"repository_url"`
	CommitID      string `json:"commit_id"`
	FilesPushed   int    `json:"files_pushed"`
}

// Publisher is the narrow interface the engine depends on. A concrete
// implementation is injected at startup; its absence is reported at
// submission time for workflows that will eventually publish.
type Publisher interface {
	Publish(ctx context.Context, proj *project.Project, creds Credentials, visibility string) (*Result, error)
	ValidateCredentials(ctx context.Context, creds Credentials) error
}

// GitHub implements Publisher against the GitHub REST API.
type GitHub struct {
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the GitHub publisher.
type Config struct {
	BaseURL string        // Default: https://api.github.com
	Timeout time.Duration // Default: 30s
}

// NewGitHub creates a GitHub publisher.
func NewGitHub(cfg Config) *GitHub {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &GitHub{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// ValidateCredentials checks the token by fetching the authenticated user.
func (g *GitHub) ValidateCredentials(ctx context.Context, creds Credentials) error {
	status, _, err := g.do(ctx, creds, http.MethodGet, "/user", nil)
	if err != nil {
		return fmt.Errorf("credential check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("credential check failed: status %d (token %s)", status, creds.Digest())
	}
	return nil
}

type repoInfo struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
}

// Publish creates a repository and uploads the project tree as one
// commit. On partial upload failure the created repository is left
// as-is. Publishing the same project twice creates two repositories.
func (g *GitHub) Publish(ctx context.Context, proj *project.Project, creds Credentials, visibility string) (*Result, error) {
	candidate := RepoName(proj.Name())
	logger := log.With(
		zap.String("project", proj.Name()),
		zap.String("token_digest", creds.Digest()),
	)

	repo, err := g.createRepo(ctx, creds, candidate, visibility)
	if errors.Is(err, ErrNameConflict) {
		retry := WithTimestampSuffix(candidate, time.Now())
		logger.Warn("repository name conflict, retrying with suffix", zap.String("name", retry))
		repo, err = g.createRepo(ctx, creds, retry, visibility)
	}
	if err != nil {
		return nil, fmt.Errorf("publish failed: %w", err)
	}

	// The remote's canonical name is authoritative from here on; the
	// client-derived candidate is never reused.
	if err := g.waitAddressable(ctx, creds, repo.FullName); err != nil {
		return nil, fmt.Errorf("publish failed: %w", err)
	}

	if err := proj.RewriteReadme(); err != nil {
		return nil, fmt.Errorf("publish failed: %w", err)
	}

	paths := make([]string, 0, len(proj.Snapshot())+1)
	for _, f := range proj.Snapshot() {
		paths = append(paths, f.RelPath)
	}
	paths = append(paths, "README.md")

	commitID, err := g.pushFiles(ctx, creds, repo, proj, paths)
	if err != nil {
		return nil, fmt.Errorf("publish failed: %w", err)
	}

	logger.Info("project published",
		zap.String("repository", repo.FullName),
		zap.String("commit", commitID),
		zap.Int("files", len(paths)),
	)
	return &Result{
		RepositoryURL: repo.HTMLURL,
		CommitID:      commitID,
		FilesPushed:   len(paths),
	}, nil
}

func (g *GitHub) createRepo(ctx context.Context, creds Credentials, name, visibility string) (*repoInfo, error) {
	body := map[string]interface{}{
		"name":      name,
		"private":   visibility != "public",
		"auto_init": true,
	}
	status, respBody, err := g.do(ctx, creds, http.MethodPost, "/user/repos", body)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusCreated:
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %s", ErrNameConflict, name)
	default:
		return nil, fmt.Errorf("create repository failed: status %d: %s", status, truncate(respBody))
	}

	var repo repoInfo
	if err := json.Unmarshal(respBody, &repo); err != nil {
		return nil, fmt.Errorf("create repository: malformed response: %w", err)
	}
	if repo.DefaultBranch == "" {
		repo.DefaultBranch = "main"
	}
	return &repo, nil
}

// waitAddressable polls repository metadata until the remote can serve
// it or the deadline passes.
func (g *GitHub) waitAddressable(ctx context.Context, creds Credentials, fullName string) error {
	deadline := time.Now().Add(addressableDeadline)
	for {
		status, _, err := g.do(ctx, creds, http.MethodGet, "/repos/"+fullName, nil)
		if err == nil && status == http.StatusOK {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("repository %s not addressable after %s", fullName, addressableDeadline)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(addressablePoll):
		}
	}
}

// pushFiles uploads all files in a single commit through the git data
// API: blobs, one tree, one commit, one ref update.
func (g *GitHub) pushFiles(ctx context.Context, creds Credentials, repo *repoInfo, proj *project.Project, paths []string) (string, error) {
	base := "/repos/" + repo.FullName

	headSHA, err := g.headCommit(ctx, creds, base, repo.DefaultBranch)
	if err != nil {
		return "", err
	}

	type treeEntry struct {
		Path string `json:"path"`
		Mode string `json:"mode"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
	}
	entries := make([]treeEntry, 0, len(paths))
	for _, relPath := range paths {
		data, err := proj.ReadFile(relPath)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", relPath, err)
		}
		blobSHA, err := g.createBlob(ctx, creds, base, data)
		if err != nil {
			return "", fmt.Errorf("upload %s: %w", relPath, err)
		}
		entries = append(entries, treeEntry{Path: relPath, Mode: "100644", Type: "blob", SHA: blobSHA})
	}

	status, respBody, err := g.do(ctx, creds, http.MethodPost, base+"/git/trees", map[string]interface{}{"tree": entries})
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("create tree failed: status %d: %s", status, truncate(respBody))
	}
	var tree struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(respBody, &tree); err != nil {
		return "", fmt.Errorf("create tree: malformed response: %w", err)
	}

	status, respBody, err = g.do(ctx, creds, http.MethodPost, base+"/git/commits", map[string]interface{}{
		"message": fmt.Sprintf("Add generated project (%d files)", len(paths)),
		"tree":    tree.SHA,
		"parents": []string{headSHA},
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("create commit failed: status %d: %s", status, truncate(respBody))
	}
	var commit struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(respBody, &commit); err != nil {
		return "", fmt.Errorf("create commit: malformed response: %w", err)
	}

	status, respBody, err = g.do(ctx, creds, http.MethodPatch, base+"/git/refs/heads/"+repo.DefaultBranch, map[string]interface{}{
		"sha":   commit.SHA,
		"force": true,
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("update ref failed: status %d: %s", status, truncate(respBody))
	}
	return commit.SHA, nil
}

func (g *GitHub) headCommit(ctx context.Context, creds Credentials, base, branch string) (string, error) {
	deadline := time.Now().Add(addressableDeadline)
	for {
		status, respBody, err := g.do(ctx, creds, http.MethodGet, base+"/git/ref/heads/"+branch, nil)
		if err == nil && status == http.StatusOK {
			var ref struct {
				Object struct {
					SHA string `json:"sha"`
				} `json:"object"`
			}
			if err := json.Unmarshal(respBody, &ref); err != nil {
				return "", fmt.Errorf("get ref: malformed response: %w", err)
			}
			return ref.Object.SHA, nil
		}
		// The initial commit from auto_init can lag repo creation.
		if time.Now().After(deadline) {
			return "", fmt.Errorf("branch %s not available: status %d", branch, status)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(addressablePoll):
		}
	}
}

func (g *GitHub) createBlob(ctx context.Context, creds Credentials, base string, data []byte) (string, error) {
	status, respBody, err := g.do(ctx, creds, http.MethodPost, base+"/git/blobs", map[string]interface{}{
		"content":  base64.StdEncoding.EncodeToString(data),
		"encoding": "base64",
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("create blob failed: status %d: %s", status, truncate(respBody))
	}
	var blob struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(respBody, &blob); err != nil {
		return "", fmt.Errorf("create blob: malformed response: %w", err)
	}
	return blob.SHA, nil
}

func (g *GitHub) do(ctx context.Context, creds Credentials, method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
