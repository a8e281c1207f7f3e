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

// Package extract parses agent text into file artifacts. It scans for
// fenced code blocks, infers a relative path for each block, and
// classifies the result as source, test, or documentation. The extractor
// is content-oblivious beyond these rules.
package extract

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Kind classifies an extracted artifact.
type Kind string

const (
	KindSrc  Kind = "src"
	KindTest Kind = "test"
	KindDoc  Kind = "doc"
)

// Artifact is one extracted (path, contents) pair.
type Artifact struct {
	// RelPath is the inferred path, relative to the project root.
	RelPath string

	// Contents is the raw block body, whitespace untouched.
	Contents string

	// Kind is src, test, or doc.
	Kind Kind
}

var (
	fenceOpenRe  = regexp.MustCompile("^```([A-Za-z0-9_+#.-]*)\\s*$")
	fenceCloseRe = regexp.MustCompile("^```\\s*$")

	// Path hints accepted on the line before a fence or as the first
	// comment line inside a block: "# path: src/x.py", "// file: x.go",
	// "filename: x.ts", or a bare "# src/x.py".
	hintLabeledRe = regexp.MustCompile(`(?i)^\s*(?:#|//|--|<!--)?\s*(?:path|file(?:name)?)\s*[:=]\s*` + "`?" + `([^\s` + "`" + `]+)` + "`?" + `\s*(?:-->)?\s*$`)
	hintBareRe    = regexp.MustCompile(`(?i)^\s*(?:#|//|--)\s*` + "`?" + `([\w./-]+\.[A-Za-z0-9]{1,8})` + "`?" + `\s*$`)

	symbolRe = regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:def|class|func|function|fn|struct|interface|module)\s+([A-Za-z_][A-Za-z0-9_]*)`)

	driveLetterRe = regexp.MustCompile(`^[A-Za-z]:[/\\]`)
)

var langExtensions = map[string]string{
	"python":     ".py",
	"py":         ".py",
	"typescript": ".ts",
	"ts":         ".ts",
	"tsx":        ".tsx",
	"javascript": ".js",
	"js":         ".js",
	"jsx":        ".jsx",
	"go":         ".go",
	"golang":     ".go",
	"rust":       ".rs",
	"java":       ".java",
	"c":          ".c",
	"cpp":        ".cpp",
	"c++":        ".cpp",
	"ruby":       ".rb",
	"rb":         ".rb",
	"sh":         ".sh",
	"bash":       ".sh",
	"shell":      ".sh",
	"html":       ".html",
	"css":        ".css",
	"json":       ".json",
	"yaml":       ".yaml",
	"yml":        ".yaml",
	"toml":       ".toml",
	"sql":        ".sql",
	"markdown":   ".md",
	"md":         ".md",
	"text":       ".txt",
	"txt":        ".txt",
}

// Extract scans text for fenced code blocks and returns the artifacts it
// can attribute to a safe relative path. Unmatched fences are skipped;
// nested fences are not supported.
func Extract(text string) []Artifact {
	lines := strings.Split(text, "\n")
	var artifacts []Artifact
	blockSeq := 0

	for i := 0; i < len(lines); i++ {
		open := fenceOpenRe.FindStringSubmatch(lines[i])
		if open == nil {
			continue
		}

		// Find the closing fence.
		end := -1
		for j := i + 1; j < len(lines); j++ {
			if fenceCloseRe.MatchString(lines[j]) {
				end = j
				break
			}
		}
		if end == -1 {
			// Unmatched fence: skip the rest of the text.
			break
		}

		lang := strings.ToLower(open[1])
		body := lines[i+1 : end]
		blockSeq++

		relPath, body := inferPath(lines, i, lang, body, blockSeq)
		if relPath != "" {
			contents := strings.Join(body, "\n")
			artifacts = append(artifacts, Artifact{
				RelPath:  relPath,
				Contents: contents,
				Kind:     Classify(relPath, contents, lang),
			})
		}

		i = end
	}
	return artifacts
}

// inferPath resolves the artifact path for a block: an explicit hint on
// the line before the fence, a hint comment on the first body line
// (stripped from the contents), or a name derived from the language tag
// and the first symbol-like token.
func inferPath(lines []string, fenceIdx int, lang string, body []string, seq int) (string, []string) {
	if fenceIdx > 0 {
		if p := matchHint(lines[fenceIdx-1]); p != "" {
			if safe := sanitizePath(p); safe != "" {
				return safe, body
			}
			return "", body
		}
	}

	if len(body) > 0 {
		if p := matchHint(body[0]); p != "" {
			if safe := sanitizePath(p); safe != "" {
				return safe, body[1:]
			}
			return "", body
		}
	}

	ext, ok := langExtensions[lang]
	if !ok {
		// No path hint and no recognizable language: not an artifact.
		return "", body
	}

	stem := ""
	if m := symbolRe.FindStringSubmatch(strings.Join(body, "\n")); m != nil {
		stem = strings.ToLower(m[1])
	}
	if stem == "" {
		stem = fmt.Sprintf("block_%d", seq)
	}
	return stem + ext, body
}

func matchHint(line string) string {
	if m := hintLabeledRe.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	if m := hintBareRe.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	return ""
}

// sanitizePath rejects paths that would escape the project root:
// absolute paths, drive letters, and any ".." traversal.
func sanitizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if driveLetterRe.MatchString(p) {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return ""
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return ""
		}
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return ""
	}
	return clean
}

var testImportMarkers = []string{
	"import pytest",
	"import unittest",
	"from unittest",
	`"testing"`,
	"require('chai'",
	`require("chai"`,
	"from 'vitest'",
	`from "vitest"`,
	"@testing-library",
	"org.junit",
}

// Classify applies the path- and content-based classification rules.
func Classify(relPath, contents, lang string) Kind {
	ext := strings.ToLower(path.Ext(relPath))
	if ext == ".md" || ext == ".rst" || ext == ".txt" {
		return KindDoc
	}

	base := path.Base(relPath)
	stem := strings.TrimSuffix(base, path.Ext(base))
	if strings.HasPrefix(relPath, "tests/") ||
		strings.HasPrefix(base, "test_") ||
		strings.HasSuffix(stem, "_test") {
		return KindTest
	}
	for _, marker := range testImportMarkers {
		if strings.Contains(contents, marker) {
			return KindTest
		}
	}
	_ = lang
	return KindSrc
}

// RenderBlock renders an artifact back into the hinted fenced-block form
// the extractor parses. Useful for tests and for regenerating agent
// transcripts.
func RenderBlock(relPath, contents string) string {
	lang := strings.TrimPrefix(path.Ext(relPath), ".")
	return fmt.Sprintf("# path: %s\n```%s\n%s\n```\n", relPath, lang, contents)
}

// HasFencedBlock reports whether text contains at least one complete
// fenced code block. Used by the completion detector.
func HasFencedBlock(text string) bool {
	lines := strings.Split(text, "\n")
	open := false
	for _, line := range lines {
		if !open && fenceOpenRe.MatchString(line) {
			open = true
			continue
		}
		if open && fenceCloseRe.MatchString(line) {
			return true
		}
	}
	return false
}
