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
	"crypto/rand"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"bedrockgate/agent/audit"
)

// Defaults for Config
const (
	DefaultPort              = "8080"
	DefaultPermissionsFile   = "config/permissions.json"
	DefaultAuditDir          = "logs/audit"
	DefaultAuditFallbackFile = "logs/audit_fallback.jsonl"
	DefaultAuditQueueSize    = 10000
	DefaultAuditWorkers      = 4
	DefaultAWSRegion         = "us-east-1"
	DefaultArchiveInterval   = time.Hour
)

// Config holds the gate's process configuration
type Config struct {
	Port string

	// Permission profiles come from Secrets Manager when PermissionsSecretID
	// is set, otherwise from PermissionsFile.
	PermissionsFile     string
	PermissionsSecretID string
	AWSRegion           string

	AuditDir          string
	AuditDatabaseURL  string // Postgres sink when set, day-segmented files otherwise
	AuditMode         audit.Mode
	AuditQueueSize    int
	AuditWorkers      int
	AuditFallbackFile string

	AuditS3Bucket          string
	AuditS3Prefix          string
	AuditS3AccessKeyID     string
	AuditS3SecretAccessKey string
	AuditArchiveInterval   time.Duration

	RedisURL string

	DecisionTokenSecret  []byte
	DecisionTokenTTL     time.Duration
	RequireDecisionToken bool

	AdminAPIKey string
}

// LoadConfig reads configuration from the environment, loading a .env file
// first when one is present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		PermissionsFile:        getEnv("PERMISSIONS_FILE", DefaultPermissionsFile),
		PermissionsSecretID:    os.Getenv("PERMISSIONS_SECRET_ID"),
		AWSRegion:              getEnv("AWS_REGION", DefaultAWSRegion),
		AuditDir:               getEnv("AUDIT_DIR", DefaultAuditDir),
		AuditDatabaseURL:       os.Getenv("AUDIT_DATABASE_URL"),
		AuditMode:              audit.ParseMode(getEnv("AUDIT_MODE", string(audit.ModeCompliance))),
		AuditQueueSize:         getEnvInt("AUDIT_QUEUE_SIZE", DefaultAuditQueueSize),
		AuditWorkers:           getEnvInt("AUDIT_WORKERS", DefaultAuditWorkers),
		AuditFallbackFile:      getEnv("AUDIT_FALLBACK_FILE", DefaultAuditFallbackFile),
		AuditS3Bucket:          os.Getenv("AUDIT_S3_BUCKET"),
		AuditS3Prefix:          getEnv("AUDIT_S3_PREFIX", "audit"),
		AuditS3AccessKeyID:     os.Getenv("AUDIT_S3_ACCESS_KEY_ID"),
		AuditS3SecretAccessKey: os.Getenv("AUDIT_S3_SECRET_ACCESS_KEY"),
		AuditArchiveInterval:   getEnvDuration("AUDIT_ARCHIVE_INTERVAL", DefaultArchiveInterval),
		RedisURL:               os.Getenv("REDIS_URL"),
		DecisionTokenTTL:       getEnvDuration("DECISION_TOKEN_TTL", defaultDecisionTokenTTL),
		RequireDecisionToken:   getEnvBool("REQUIRE_DECISION_TOKEN", true),
		AdminAPIKey:            os.Getenv("ADMIN_API_KEY"),
	}

	if secret := os.Getenv("DECISION_TOKEN_SECRET"); secret != "" {
		cfg.DecisionTokenSecret = []byte(secret)
	} else {
		cfg.DecisionTokenSecret = make([]byte, 32)
		if _, err := rand.Read(cfg.DecisionTokenSecret); err != nil {
			return nil, fmt.Errorf("failed to generate decision token secret: %w", err)
		}
		log.Println("⚠️  DECISION_TOKEN_SECRET not set, using a random per-process secret")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and option combinations
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.AuditQueueSize <= 0 {
		return fmt.Errorf("AUDIT_QUEUE_SIZE must be positive, got %d", c.AuditQueueSize)
	}
	if c.AuditWorkers <= 0 {
		return fmt.Errorf("AUDIT_WORKERS must be positive, got %d", c.AuditWorkers)
	}
	if c.DecisionTokenTTL <= 0 {
		return fmt.Errorf("DECISION_TOKEN_TTL must be positive")
	}
	if (c.AuditS3AccessKeyID == "") != (c.AuditS3SecretAccessKey == "") {
		return fmt.Errorf("AUDIT_S3_ACCESS_KEY_ID and AUDIT_S3_SECRET_ACCESS_KEY must be set together")
	}
	if c.AuditS3Bucket != "" && c.AuditDatabaseURL != "" {
		return fmt.Errorf("AUDIT_S3_BUCKET archives file segments and cannot be combined with AUDIT_DATABASE_URL")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
