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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// Credentials is the opaque token + username pair for the remote host.
// Both values are whitespace-trimmed at ingestion; a stored trailing
// space in either value corrupts the repository URL downstream, so
// trimming happens here and nowhere else.
type Credentials struct {
	Token    string
	Username string
}

// NewCredentials trims and validates a token/username pair.
// Control characters and embedded whitespace are rejected outright.
func NewCredentials(token, username string) (Credentials, error) {
	token = strings.TrimSpace(token)
	username = strings.TrimSpace(username)

	if token == "" {
		return Credentials{}, fmt.Errorf("token is empty")
	}
	if username == "" {
		return Credentials{}, fmt.Errorf("username is empty")
	}
	for _, field := range []struct{ name, value string }{
		{"token", token},
		{"username", username},
	} {
		for _, r := range field.value {
			if unicode.IsControl(r) || unicode.IsSpace(r) {
				return Credentials{}, fmt.Errorf("%s contains whitespace or control characters", field.name)
			}
		}
	}
	return Credentials{Token: token, Username: username}, nil
}

// Digest returns a short hash prefix of the token, safe for diagnostics.
// The token itself is never logged.
func (c Credentials) Digest() string {
	sum := sha256.Sum256([]byte(c.Token))
	return hex.EncodeToString(sum[:])[:8]
}
