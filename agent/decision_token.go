// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	decisionTokenIssuer = "bedrockgate"

	// defaultDecisionTokenTTL bounds how long an approved request may take
	// before its usage is reported.
	defaultDecisionTokenTTL = 5 * time.Minute
)

// Decision token errors
var (
	ErrInvalidDecisionToken  = errors.New("invalid or expired decision token")
	ErrDecisionTokenReused   = errors.New("decision token already used")
	ErrDecisionTokenMismatch = errors.New("decision token does not match usage report")
	ErrInvalidUsage          = errors.New("invalid usage report")
)

// DecisionClaims are the signed contents of a decision token. Subject is the
// agent id and ID (jti) makes each token single-use.
type DecisionClaims struct {
	ModelID   string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 decision tokens
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer returns an issuer signing with secret. A non-positive ttl
// uses five minutes.
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = defaultDecisionTokenTTL
	}
	return &TokenIssuer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue signs a token granting agentID one call to modelID with up to
// maxTokens output tokens.
func (ti *TokenIssuer) Issue(agentID, modelID string, maxTokens int) (string, *DecisionClaims, error) {
	now := ti.now()
	claims := &DecisionClaims{
		ModelID:   modelID,
		MaxTokens: maxTokens,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    decisionTokenIssuer,
			Subject:   agentID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign decision token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks the signature, issuer and expiry of tokenString
func (ti *TokenIssuer) Verify(tokenString string) (*DecisionClaims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing", ErrInvalidDecisionToken)
	}

	claims := &DecisionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return ti.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(decisionTokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDecisionToken, err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject or id", ErrInvalidDecisionToken)
	}
	return claims, nil
}
