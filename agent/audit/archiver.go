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

package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"bedrockgate/shared/logger"
)

const archivedMarker = ".archived"

// S3PutObjectAPI is the subset of the S3 client used by Archiver
type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver uploads closed FileSink segments to S3. A segment is closed once
// its UTC day has ended. Each uploaded segment gets a sibling marker file so
// it is uploaded once.
type Archiver struct {
	sink   *FileSink
	client S3PutObjectAPI
	bucket string
	prefix string
	now    func() time.Time
	log    *logger.Logger
}

// NewArchiver returns an archiver for sink's segments
func NewArchiver(sink *FileSink, client S3PutObjectAPI, bucket, prefix string) *Archiver {
	return &Archiver{
		sink:   sink,
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
		log:    logger.New("audit-archiver"),
	}
}

// ObjectKey returns the S3 key a segment is uploaded to
func (a *Archiver) ObjectKey(seg Segment) string {
	return path.Join(a.prefix, seg.Day.Format("2006"), filepath.Base(seg.Path))
}

// ArchiveClosed uploads every closed, not yet archived segment and returns
// how many were uploaded. It stops at the first failed upload.
func (a *Archiver) ArchiveClosed(ctx context.Context) (int, error) {
	segments, err := a.sink.Segments()
	if err != nil {
		return 0, err
	}

	today := a.now().UTC().Truncate(24 * time.Hour)
	uploaded := 0
	for _, seg := range segments {
		if !seg.Day.Before(today) {
			continue
		}
		marker := seg.Path + archivedMarker
		if _, err := os.Stat(marker); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return uploaded, fmt.Errorf("failed to check archive marker: %w", err)
		}

		data, err := os.ReadFile(seg.Path)
		if err != nil {
			return uploaded, fmt.Errorf("failed to read segment %s: %w", filepath.Base(seg.Path), err)
		}

		key := a.ObjectKey(seg)
		_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/x-ndjson"),
		})
		if err != nil {
			return uploaded, fmt.Errorf("failed to upload segment %s: %w", filepath.Base(seg.Path), err)
		}

		if err := os.WriteFile(marker, []byte(a.now().UTC().Format(time.RFC3339)+"\n"), 0o600); err != nil {
			return uploaded, fmt.Errorf("failed to write archive marker: %w", err)
		}
		uploaded++
		a.log.Info("", "", "Archived audit segment", map[string]interface{}{
			"bucket": a.bucket,
			"key":    key,
			"bytes":  len(data),
		})
	}
	return uploaded, nil
}

// Run archives on every tick until ctx is done
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := a.ArchiveClosed(ctx); err != nil {
			a.log.ErrorWithErr("", "", "Audit archival failed", err, nil)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
