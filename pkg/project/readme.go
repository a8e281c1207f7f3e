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
package project

import (
	"fmt"
	"strings"
	"time"
)

// initialReadme is written when a project is first opened, before any
// artifacts exist.
func initialReadme(task, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", name)
	fmt.Fprintf(&b, "Generated by a multi-agent workflow.\n\n")
	fmt.Fprintf(&b, "## Task\n\n%s\n\n", task)
	b.WriteString("## Structure\n\n")
	b.WriteString("- `src/`: generated source files\n")
	b.WriteString("- `tests/`: generated tests\n")
	return b.String()
}

// RewriteReadme regenerates the README with the discovered file list.
// Called at publication time.
func (p *Project) RewriteReadme() error {
	p.mu.Lock()
	task := p.meta.Task
	name := p.meta.Name
	created := p.meta.CreatedAt
	files := make([]FileRecord, len(p.meta.Files))
	copy(files, p.meta.Files)
	p.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", name)
	fmt.Fprintf(&b, "Generated by a multi-agent workflow on %s.\n\n", created.Format(time.DateOnly))
	fmt.Fprintf(&b, "## Task\n\n%s\n\n", task)
	b.WriteString("## Files\n\n")
	for _, f := range files {
		label := "source"
		if f.IsTest {
			label = "test"
		}
		fmt.Fprintf(&b, "- `%s` (%s, %d bytes)\n", f.RelPath, label, f.SizeBytes)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.writeFileAtomic("README.md", []byte(b.String())); err != nil {
		return fmt.Errorf("failed to rewrite README: %w", err)
	}
	return nil
}
