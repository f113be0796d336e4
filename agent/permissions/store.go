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
	"errors"
	"fmt"
	"sort"
	"sync"

	"bedrockgate/shared/logger"
)

// Permission errors
var (
	ErrModelNotAllowed        = errors.New("model not allowed")
	ErrActionNotAllowed       = errors.New("action not allowed")
	ErrTokenLimitExceeded     = errors.New("token limit exceeded")
	ErrDefaultProfileRequired = errors.New("the default profile cannot be removed")
	ErrProfileNotFound        = errors.New("profile not found")
	ErrConfigurationFault     = errors.New("permission source unreadable")
	ErrDegraded               = errors.New("permission store is degraded; reload before modifying")
)

// DeniedError carries the display-ready reason of a failed permission check
type DeniedError struct {
	Reason string
	Err    error
}

func (e *DeniedError) Error() string { return e.Reason }

func (e *DeniedError) Unwrap() error { return e.Err }

// Store resolves agent ids to profiles. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	source   Source
	profiles map[string]Profile
	degraded bool
	log      *logger.Logger
}

// NewStore loads profiles from source. It never fails: an absent document
// yields BuiltinProfiles and an unreadable one yields a degraded store
// holding only RestrictiveProfile. A nil source behaves like an empty
// MemorySource.
func NewStore(ctx context.Context, source Source) *Store {
	if source == nil {
		source = NewMemorySource(nil)
	}
	s := &Store{
		source: source,
		log:    logger.New("permissions"),
	}
	if err := s.Reload(ctx); err != nil {
		s.log.ErrorWithErr("", "", "Permission source unreadable, using restrictive default", err, nil)
	}
	return s
}

// Reload replaces the in-memory profiles with the source's current document.
// On a read or parse failure the store switches to the restrictive default,
// marks itself degraded and returns an error wrapping ErrConfigurationFault.
func (s *Store) Reload(ctx context.Context) error {
	profiles, err := s.source.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case errors.Is(err, ErrSourceNotFound):
		s.profiles = BuiltinProfiles()
		s.degraded = false
		s.log.Info("", "", "No permission document found, using built-in profiles", nil)
		return nil
	case err != nil:
		s.profiles = map[string]Profile{DefaultAgentID: RestrictiveProfile()}
		s.degraded = true
		return fmt.Errorf("%w: %v", ErrConfigurationFault, err)
	}

	loaded := make(map[string]Profile, len(profiles)+1)
	for id, p := range profiles {
		loaded[id] = p.Clone()
	}
	if _, ok := loaded[DefaultAgentID]; !ok {
		loaded[DefaultAgentID] = RestrictiveProfile()
		s.log.Warn("", "", "Permission document has no default profile, inserted restrictive default", nil)
	}
	s.profiles = loaded
	s.degraded = false
	s.log.Info("", "", "Permission profiles loaded", map[string]interface{}{
		"agents": len(loaded),
	})
	return nil
}

// Degraded reports whether the store is running on the restrictive default
// because its source could not be read.
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

func (s *Store) lookup(agentID string) Profile {
	if p, ok := s.profiles[agentID]; ok {
		return p
	}
	return s.profiles[DefaultAgentID]
}

// Resolve returns a copy of the agent's profile, or of "default"
func (s *Store) Resolve(agentID string) Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(agentID).Clone()
}

// Check decides whether agentID may run actionType on modelID with
// requestedTokens. Checks run in order: model, action, tokens. An empty
// actionType skips the action check.
func (s *Store) Check(agentID, actionType, modelID string, requestedTokens int) error {
	s.mu.RLock()
	p := s.lookup(agentID)
	s.mu.RUnlock()

	if !p.AllowsModel(modelID) {
		return &DeniedError{
			Reason: fmt.Sprintf("Model not allowed: %s. Allowed: %v", modelID, p.AllowedModels),
			Err:    ErrModelNotAllowed,
		}
	}
	if actionType != "" && !p.AllowsAction(actionType) {
		return &DeniedError{
			Reason: fmt.Sprintf("Action not allowed: %s. Allowed: %v", actionType, p.AllowedActions),
			Err:    ErrActionNotAllowed,
		}
	}
	if requestedTokens > p.MaxTokens {
		return &DeniedError{
			Reason: fmt.Sprintf("Token limit exceeded: %d > %d", requestedTokens, p.MaxTokens),
			Err:    ErrTokenLimitExceeded,
		}
	}
	return nil
}

// RateLimit returns the agent's effective rate limits
func (s *Store) RateLimit(agentID string) RateLimitConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(agentID).EffectiveRateLimit()
}

// Sandbox returns a copy of the agent's sandbox settings
func (s *Store) Sandbox(agentID string) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sb := s.lookup(agentID).Sandbox; sb != nil {
		return cloneMap(sb)
	}
	return DefaultSandbox()
}

// ListAgents returns the configured agent ids in sorted order
func (s *Store) ListAgents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Profile returns the agent's own profile without falling back to default
func (s *Store) Profile(agentID string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[agentID]
	if !ok {
		return Profile{}, false
	}
	return p.Clone(), true
}

// Put adds or replaces an agent's profile and persists the document. The
// in-memory state only changes once the source has accepted the write.
func (s *Store) Put(ctx context.Context, agentID string, p Profile) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent id is required", ErrInvalidProfile)
	}
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return ErrDegraded
	}

	next := s.snapshotLocked()
	next[agentID] = p.Clone()
	if err := s.source.Save(ctx, next); err != nil {
		return fmt.Errorf("failed to save permissions: %w", err)
	}
	s.profiles = next
	s.log.Info(agentID, "", "Permission profile updated", nil)
	return nil
}

// Remove deletes an agent's profile. The default profile cannot be removed.
func (s *Store) Remove(ctx context.Context, agentID string) error {
	if agentID == DefaultAgentID {
		return ErrDefaultProfileRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return ErrDegraded
	}
	if _, ok := s.profiles[agentID]; !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, agentID)
	}

	next := s.snapshotLocked()
	delete(next, agentID)
	if err := s.source.Save(ctx, next); err != nil {
		return fmt.Errorf("failed to save permissions: %w", err)
	}
	s.profiles = next
	s.log.Info(agentID, "", "Permission profile removed", nil)
	return nil
}

func (s *Store) snapshotLocked() map[string]Profile {
	out := make(map[string]Profile, len(s.profiles)+1)
	for id, p := range s.profiles {
		out[id] = p.Clone()
	}
	return out
}
