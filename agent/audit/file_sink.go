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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	segmentPrefix = "audit-"
	segmentSuffix = ".jsonl"
	segmentLayout = "2006-01-02"
)


// FileSink appends entries as JSON lines to one file per UTC day,
// named audit-YYYY-MM-DD.jsonl.
type FileSink struct {
	dir string
	mu  sync.Mutex
}

// NewFileSink creates dir if needed and returns a sink writing into it
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Dir returns the segment directory
func (f *FileSink) Dir() string { return f.dir }

// SegmentName returns the segment file name for the UTC day of t
func SegmentName(t time.Time) string {
	return segmentPrefix + t.UTC().Format(segmentLayout) + segmentSuffix
}

// Append writes e to the segment of its timestamp's day
func (f *FileSink) Append(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.dir, SegmentName(e.Timestamp))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit segment: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return file.Close()
}

// Segment is one day of audit entries on disk
type Segment struct {
	Path string
	Day  time.Time
}

// Segments lists segment files in chronological order
func (f *FileSink) Segments() ([]Segment, error) {
	dirEntries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit directory: %w", err)
	}

	var segments []Segment
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		day, err := time.Parse(segmentLayout, strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix))
		if err != nil {
			continue
		}
		segments = append(segments, Segment{Path: filepath.Join(f.dir, name), Day: day})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].Day.Before(segments[j].Day) })
	return segments, nil
}

// Query scans every segment overlapping the window. Lines that fail to
// parse are skipped.
func (f *FileSink) Query(ctx context.Context, q Query) ([]Entry, error) {
	segments, err := f.Segments()
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0)
	for _, seg := range segments {
		if !q.Since.IsZero() && seg.Day.Add(24*time.Hour).Before(q.Since.UTC()) {
			continue
		}
		if !q.Until.IsZero() && seg.Day.After(q.Until.UTC()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := readSegment(seg.Path, q)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return q.trim(out), nil
}

func readSegment(path string, q Query) ([]Entry, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open audit segment: %w", err)
	}
	defer file.Close()

	var out []Entry
	reader := bufio.NewReader(file)
	for {
		// records have no size cap; a request body can escape to several MB
		line, readErr := reader.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			var e Entry
			if err := json.Unmarshal(line, &e); err == nil && q.Matches(e) {
				out = append(out, e)
			}
		}
		if errors.Is(readErr, io.EOF) {
			return out, nil
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read audit segment %s: %w", filepath.Base(path), readErr)
		}
	}
}
