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
package publish

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const maxRepoNameLen = 80

var repoNameRe = regexp.MustCompile(`[^a-z0-9]+`)

// RepoName derives a candidate repository name from a project name:
// lowercased, non-alphanumerics collapsed to '-', leading/trailing '-'
// trimmed, bounded in length.
func RepoName(projectName string) string {
	name := repoNameRe.ReplaceAllString(strings.ToLower(projectName), "-")
	name = strings.Trim(name, "-")
	if len(name) > maxRepoNameLen {
		name = strings.Trim(name[:maxRepoNameLen], "-")
	}
	if name == "" {
		name = "generated-project"
	}
	return name
}

// WithTimestampSuffix appends a short timestamp for the one name-conflict
// retry, keeping the result within the length bound.
func WithTimestampSuffix(name string, now time.Time) string {
	suffix := fmt.Sprintf("-%d", now.Unix())
	if len(name)+len(suffix) > maxRepoNameLen {
		name = strings.Trim(name[:maxRepoNameLen-len(suffix)], "-")
	}
	return name + suffix
}
