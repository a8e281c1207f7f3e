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
package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/atelierhq/atelier/pkg/types"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens estimates the token count of text using the cl100k_base
// encoding. Falls back to a bytes/4 heuristic if the tokenizer cannot be
// initialized (offline BPE data).
func CountTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// EstimateUsage fills in token counts for providers that do not report
// usage (notably Ollama). The result is flagged Estimated.
func EstimateUsage(messages []types.Message, completion string) types.Usage {
	in := 0
	for _, m := range messages {
		in += CountTokens(m.Content)
	}
	out := CountTokens(completion)
	return types.Usage{
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  in + out,
		Estimated:    true,
	}
}
