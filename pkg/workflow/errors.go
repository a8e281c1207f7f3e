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
package workflow

import "errors"

var (
	// ErrNotFound means the workflow id is unknown to the engine.
	ErrNotFound = errors.New("workflow not found")

	// ErrAlreadyTerminal means the operation needs a running workflow.
	ErrAlreadyTerminal = errors.New("workflow already terminal")

	// ErrNotCompleted means publication was requested before completion.
	ErrNotCompleted = errors.New("workflow not completed")
)
