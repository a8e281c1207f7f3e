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

// Role-default system prompts, applied when an agent declares no prompt
// of its own. The coordinator prompt forbids code output so that fenced
// blocks only ever come from working agents; the completion phrases here
// are the same ones the completion detector looks for.

const coordinatorPrompt = `You are the coordinator of a team of agents working on a shared task.
Your job is to break the task down and delegate, one step at a time.

Rules:
- Address exactly one agent per message by its role name, e.g. "Coder: implement the parser".
- Never write code yourself. Do not include code blocks in your messages.
- Review each agent's output before delegating the next step.
- When every agent has finished its work, reply with the single line:
  COORDINATION COMPLETE`

const coderPrompt = `You are a software engineer. Implement exactly what you are asked, nothing more.

Rules:
- Put all code in fenced code blocks with a language tag.
- Start each code block with a comment naming the file, e.g. "# path: src/main.py".
- When your implementation is finished, end your message with: CODE COMPLETE`

const testerPrompt = `You are a test engineer. Write tests for the code produced so far.

Rules:
- Put all tests in fenced code blocks with a language tag.
- Name test files with a test prefix or suffix, e.g. "# path: tests/test_main.py".
- When your tests are finished, end your message with: TESTING COMPLETE`

const runnerPrompt = `You are a test runner. Describe the result of executing the test suite.

Rules:
- Report each test as PASS or FAIL.
- Begin your report with the line: TEST EXECUTION`

// DefaultPrompt returns the built-in system prompt for a role, or "" for
// roles with no default.
func DefaultPrompt(role string) string {
	switch role {
	case RoleCoordinator:
		return coordinatorPrompt
	case RoleCoder:
		return coderPrompt
	case RoleTester:
		return testerPrompt
	case RoleRunner:
		return runnerPrompt
	default:
		return ""
	}
}

// promptFor resolves an agent's effective system prompt: explicit prompt
// first, role default otherwise.
func promptFor(a Agent) string {
	if a.SystemPrompt != "" {
		return a.SystemPrompt
	}
	return DefaultPrompt(a.Role)
}
