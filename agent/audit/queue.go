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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Mode defines how queued entries are persisted
type Mode string

const (
	ModeCompliance  Mode = "compliance"  // Sync writes for security events
	ModePerformance Mode = "performance" // Async for everything
)

// ParseMode maps a config string to a Mode, defaulting to performance
func ParseMode(s string) Mode {
	if Mode(s) == ModeCompliance {
		return ModeCompliance
	}
	return ModePerformance
}

const maxAttempts = 3

// ErrQueueClosed is returned by Append after a completed Shutdown
var ErrQueueClosed = errors.New("audit queue is shut down")

// QueueStats is a snapshot of queue counters
type QueueStats struct {
	Mode      Mode   `json:"mode"`
	Queued    uint64 `json:"queued"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Fallback  uint64 `json:"fallback"`
	Pending   int    `json:"pending"`
}

// Queue writes entries to a primary sink from background workers. Entries
// that cannot be written after retries, or that arrive while the queue is
// full, go to a JSONL fallback file instead. Queries are served by the
// primary sink, so entries still in flight are not yet visible.
type Queue struct {
	mode       Mode
	primary    Sink
	queue      chan Entry
	workers    int
	retryDelay time.Duration
	onFault    func(error)
	wg         sync.WaitGroup

	fallbackMu   sync.Mutex
	fallbackFile *os.File

	closeMu sync.RWMutex
	closed  bool

	queued    atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	fallback  atomic.Uint64
}

// QueueConfig configures NewQueue
type QueueConfig struct {
	Mode         Mode
	Size         int
	Workers      int
	FallbackPath string

	// RetryDelay is the base backoff between attempts; attempt n waits n*RetryDelay.
	RetryDelay time.Duration

	// OnFault, if set, is called from a worker whenever a queued entry fails
	// its primary write or its fallback write. Synchronous failures are
	// returned from Append instead.
	OnFault func(error)
}

// NewQueue opens the fallback file and starts the workers
func NewQueue(primary Sink, cfg QueueConfig) (*Queue, error) {
	if cfg.Size <= 0 {
		cfg.Size = 10000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.Mode == "" {
		cfg.Mode = ModePerformance
	}

	fallbackFile, err := os.OpenFile(cfg.FallbackPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open fallback file: %w", err)
	}

	q := &Queue{
		mode:         cfg.Mode,
		primary:      primary,
		queue:        make(chan Entry, cfg.Size),
		workers:      cfg.Workers,
		retryDelay:   cfg.RetryDelay,
		onFault:      cfg.OnFault,
		fallbackFile: fallbackFile,
	}

	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	log.Printf("Audit queue started in %s mode with %d workers, fallback: %s", cfg.Mode, cfg.Workers, cfg.FallbackPath)
	return q, nil
}

// Append enqueues e. In compliance mode security events are written
// synchronously and their error is returned.
func (q *Queue) Append(ctx context.Context, e Entry) error {
	if q.mode == ModeCompliance && e.Type == TypeSecurityEvent {
		if err := q.writeWithRetry(ctx, e); err != nil {
			q.failed.Add(1)
			if fbErr := q.writeToFallback(e); fbErr != nil {
				return fmt.Errorf("%w (fallback: %v)", err, fbErr)
			}
			return err
		}
		q.processed.Add(1)
		return nil
	}

	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		if err := q.writeToFallback(e); err != nil {
			return fmt.Errorf("%w: %v", ErrQueueClosed, err)
		}
		return nil
	}

	select {
	case q.queue <- e:
		q.queued.Add(1)
		return nil
	default:
		// Queue full - write to fallback immediately
		return q.writeToFallback(e)
	}
}

// Query delegates to the primary sink
func (q *Queue) Query(ctx context.Context, query Query) ([]Entry, error) {
	return q.primary.Query(ctx, query)
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for entry := range q.queue {
		if err := q.writeWithRetry(context.Background(), entry); err != nil {
			q.failed.Add(1)
			q.fault(err)
			if fbErr := q.writeToFallback(entry); fbErr != nil {
				log.Printf("Audit worker %d: failed to write to fallback: %v", id, fbErr)
				q.fault(fbErr)
			}
			continue
		}
		q.processed.Add(1)
	}
}

func (q *Queue) fault(err error) {
	if q.onFault != nil {
		q.onFault(err)
	}
}

func (q *Queue) writeWithRetry(ctx context.Context, e Entry) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = q.primary.Append(ctx, e); err == nil {
			return nil
		}
		if attempt < maxAttempts {
			time.Sleep(q.retryDelay * time.Duration(attempt))
		}
	}
	return err
}

func (q *Queue) writeToFallback(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	q.fallbackMu.Lock()
	defer q.fallbackMu.Unlock()
	if _, err := fmt.Fprintf(q.fallbackFile, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write to fallback: %w", err)
	}
	q.fallback.Add(1)
	return q.fallbackFile.Sync()
}

// Shutdown stops accepting entries and waits for the workers to drain the
// queue. If ctx ends first the remaining entries are written to the
// fallback file and ctx's error is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	log.Println("Shutting down audit queue...")

	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return nil
	}
	q.closed = true
	close(q.queue)
	q.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("Audit queue shutdown complete. Processed: %d, Failed: %d",
			q.processed.Load(), q.failed.Load())
		q.fallbackMu.Lock()
		defer q.fallbackMu.Unlock()
		return q.fallbackFile.Close()
	case <-ctx.Done():
		remaining := 0
		for entry := range q.queue {
			if err := q.writeToFallback(entry); err != nil {
				log.Printf("Failed to write entry to fallback during timeout: %v", err)
			}
			remaining++
		}
		log.Printf("Timeout: saved %d audit entries to fallback", remaining)
		// Workers may still be finishing an entry, so the fallback file stays open.
		return ctx.Err()
	}
}

// Stats returns the queue counters
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Mode:      q.mode,
		Queued:    q.queued.Load(),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Fallback:  q.fallback.Load(),
		Pending:   len(q.queue),
	}
}
