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

package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
}

// SecretsManagerSource keeps the permission document as the JSON string
// value of an AWS Secrets Manager secret. The secret must already exist for
// Save to succeed.
type SecretsManagerSource struct {
	client   SecretsManagerAPI
	secretID string
}

// NewSecretsManagerSource returns a source bound to secretID
func NewSecretsManagerSource(client SecretsManagerAPI, secretID string) *SecretsManagerSource {
	return &SecretsManagerSource{client: client, secretID: secretID}
}

// Load fetches and parses the secret value
func (s *SecretsManagerSource) Load(ctx context.Context) (map[string]Profile, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("failed to get secret %s: %w", maskSecretID(s.secretID), err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskSecretID(s.secretID))
	}

	profiles := make(map[string]Profile)
	if err := json.Unmarshal([]byte(*out.SecretString), &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse secret %s: %w", maskSecretID(s.secretID), err)
	}
	return profiles, nil
}

// Save writes a new version of the secret
func (s *SecretsManagerSource) Save(ctx context.Context, profiles map[string]Profile) error {
	data, err := json.Marshal(profiles)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}
	_, err = s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(s.secretID),
		SecretString: aws.String(string(data)),
	})
	if err != nil {
		return fmt.Errorf("failed to put secret %s: %w", maskSecretID(s.secretID), err)
	}
	return nil
}

// maskSecretID shows only the last 8 characters of a secret id or ARN
func maskSecretID(id string) string {
	if len(id) <= 12 {
		return "***"
	}
	return "..." + id[len(id)-8:]
}
