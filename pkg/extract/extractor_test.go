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
package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLabeledHintBeforeFence(t *testing.T) {
	text := "Here is the implementation.\n" +
		"# path: src/add.py\n" +
		"```python\n" +
		"def add(a, b):\n" +
		"    return a + b\n" +
		"```\n"

	artifacts := Extract(text)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "src/add.py", artifacts[0].RelPath)
	assert.Equal(t, "def add(a, b):\n    return a + b", artifacts[0].Contents)
	assert.Equal(t, KindSrc, artifacts[0].Kind)
}

func TestExtractHintInsideFence(t *testing.T) {
	text := "```python\n" +
		"# path: src/add.py\n" +
		"def add(a, b):\n" +
		"    return a + b\n" +
		"```\n" +
		"CODE COMPLETE\n"

	artifacts := Extract(text)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "src/add.py", artifacts[0].RelPath)
	// The hint comment is stripped from the contents.
	assert.Equal(t, "def add(a, b):\n    return a + b", artifacts[0].Contents)
}

func TestExtractHintStyles(t *testing.T) {
	tests := []struct {
		name string
		hint string
		want string
	}{
		{"hash path", "# path: src/main.py", "src/main.py"},
		{"slash file", "// file: cmd/main.go", "cmd/main.go"},
		{"bare filename label", "filename: app.ts", "app.ts"},
		{"equals separator", "# path = lib/util.rb", "lib/util.rb"},
		{"bare comment filename", "// handlers.go", "handlers.go"},
		{"html comment", "<!-- path: index.html -->", "index.html"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchHint(tt.hint))
		})
	}
}

func TestExtractSymbolFallback(t *testing.T) {
	text := "```python\ndef multiply(a, b):\n    return a * b\n```\n"

	artifacts := Extract(text)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "multiply.py", artifacts[0].RelPath)
}

func TestExtractBlockSequenceFallback(t *testing.T) {
	text := "```python\nprint('one')\n```\n\n```python\nprint('two')\n```\n"

	artifacts := Extract(text)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "block_1.py", artifacts[0].RelPath)
	assert.Equal(t, "block_2.py", artifacts[1].RelPath)
}

func TestExtractUnknownLanguageWithoutHint(t *testing.T) {
	text := "```\nsome output\n```\n"
	assert.Empty(t, Extract(text))
}

func TestExtractUnmatchedFence(t *testing.T) {
	text := "```python\ndef broken():\n    pass\n"
	assert.Empty(t, Extract(text))
}

func TestExtractSkipsUnsafePaths(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"absolute", "/etc/passwd"},
		{"traversal", "../secrets.txt"},
		{"nested traversal", "src/../../escape.py"},
		{"drive letter", `C:\windows\system32.dll`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, sanitizePath(tt.path))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		relPath  string
		contents string
		want     Kind
	}{
		{"markdown doc", "README.md", "# readme", KindDoc},
		{"plain text doc", "notes.txt", "notes", KindDoc},
		{"tests directory", "tests/test_add.py", "def test_add(): pass", KindTest},
		{"test prefix", "test_util.py", "def test_u(): pass", KindTest},
		{"test suffix", "store_test.go", "package store", KindTest},
		{"pytest import", "checks.py", "import pytest\n", KindTest},
		{"go testing import", "util.go", "import \"testing\"\n", KindTest},
		{"plain source", "src/add.py", "def add(): pass", KindSrc},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.relPath, tt.contents, ""))
		})
	}
}

func TestRenderBlockRoundTrip(t *testing.T) {
	rendered := RenderBlock("src/calc.py", "def calc():\n    return 42")

	artifacts := Extract(rendered)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "src/calc.py", artifacts[0].RelPath)
	assert.Equal(t, "def calc():\n    return 42", artifacts[0].Contents)
}

func TestHasFencedBlock(t *testing.T) {
	assert.True(t, HasFencedBlock("```go\nfunc main() {}\n```"))
	assert.False(t, HasFencedBlock("no code here"))
	assert.False(t, HasFencedBlock("```go\nunterminated"))
}
