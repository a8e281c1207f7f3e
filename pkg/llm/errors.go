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

// Package llm provides the provider-neutral pieces of the LLM adapter:
// the normalized error taxonomy, the model registry, and token-count
// estimation for providers that do not report usage.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind classifies a provider failure into the engine's normalized taxonomy.
// The engine decides retry policy from the kind alone.
type Kind string

const (
	// KindTransport covers connection resets, DNS failures, EOFs.
	KindTransport Kind = "transport_error"
	// KindRateLimit is an HTTP 429; RetryAfter may carry the provider hint.
	KindRateLimit Kind = "provider_rate_limit"
	// KindServer is any provider 5xx.
	KindServer Kind = "provider_server_error"
	// KindAuth is a 401/403; never retried.
	KindAuth Kind = "provider_auth_error"
	// KindQuota is quota exhaustion without a recovery hint; never retried.
	KindQuota Kind = "provider_quota_exhausted"
	// KindMalformed is a response the adapter could not decode.
	KindMalformed Kind = "malformed_response"
	// KindUnknownModel is a model id absent from the registry.
	KindUnknownModel Kind = "unknown_model"
	// KindCancelled is a caller-initiated abort.
	KindCancelled Kind = "cancelled"
)

// Error is a provider failure normalized into the taxonomy.
type Error struct {
	Kind Kind

	// Provider is the provider name ("anthropic", "openai", "ollama").
	Provider string

	// Status is the HTTP status code, when the failure had one.
	Status int

	// RetryAfter is the provider's backoff hint, zero when absent.
	RetryAfter time.Duration

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the engine may retry a call that failed with
// this error. Retry counts and backoff are the engine's concern.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindRateLimit, KindServer, KindMalformed:
		return true
	default:
		return false
	}
}

// KindOf extracts the taxonomy kind from any error. Errors that did not
// originate in a provider client map to transport or cancellation.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransport
	}
	return KindTransport
}

// Retryable reports whether any error is retryable under the taxonomy.
func Retryable(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Retryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Unclassified failures are treated as transport errors.
	return true
}

// RetryAfter returns the provider backoff hint attached to err, if any.
func RetryAfter(err error) time.Duration {
	var le *Error
	if errors.As(err, &le) {
		return le.RetryAfter
	}
	return 0
}

// ClassifyStatus maps an HTTP status code to a taxonomy kind.
// Shared by the provider clients so all of them classify uniformly.
func ClassifyStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimit
	case status >= 500:
		return KindServer
	default:
		return KindMalformed
	}
}
