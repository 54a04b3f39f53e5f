package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

const (
	defaultHistoryRetention = 10 * time.Minute
	defaultLockTimeout      = 3 * time.Second
	globalScope             = "global"
)

type document int

const (
	triggerDoc document = iota
	punishmentDoc
)

func (d document) String() string {
	if d == triggerDoc {
		return "trigger"
	}
	return "punishment"
}

// Store owns the moderation state and its durability. Every mutation is
// applied and persisted inside the same critical section.
type Store struct {
	mu               sync.RWMutex
	state            policy.State
	triggerPath      string
	punishmentPath   string
	dirty            map[document]bool
	history          map[string][]time.Time
	historyRetention time.Duration
	lockTimeout      time.Duration
	onPersistError   func(error)
}

// Options configure Store construction.
type Options struct {
	TriggerPath      string
	PunishmentPath   string
	HistoryRetention time.Duration
	LockTimeout      time.Duration
	// OnPersistError is called (under the store lock) whenever a write fails.
	OnPersistError func(error)
}

// NewStore constructs a store optionally backed by on-disk persistence.
func NewStore(opts Options) *Store {
	retention := opts.HistoryRetention
	if retention <= 0 {
		retention = defaultHistoryRetention
	}
	lockTimeout := opts.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Store{
		state:            policy.NewState(),
		triggerPath:      strings.TrimSpace(opts.TriggerPath),
		punishmentPath:   strings.TrimSpace(opts.PunishmentPath),
		dirty:            make(map[document]bool),
		history:          make(map[string][]time.Time),
		historyRetention: retention,
		lockTimeout:      lockTimeout,
		onPersistError:   opts.OnPersistError,
	}
}

// Load restores persisted state. A missing file yields defaults silently; an
// unreadable or corrupt file also yields defaults, and the error is returned
// so the caller can log it.
func (s *Store) Load() error {
	next := policy.NewState()
	var errs []error

	var tdoc triggerDocument
	if ok, err := readDocument(s.triggerPath, &tdoc); err != nil {
		errs = append(errs, err)
	} else if ok {
		next.Trigger = decodeTrigger(tdoc)
	}

	var pdoc punishmentDocument
	if ok, err := readDocument(s.punishmentPath, &pdoc); err != nil {
		errs = append(errs, err)
	} else if ok {
		next.Rules = decodeRules(pdoc)
	}

	s.mu.Lock()
	s.state = next
	s.dirty = make(map[document]bool)
	s.mu.Unlock()
	return errors.Join(errs...)
}

func readDocument(path string, into any) (bool, error) {
	if path == "" {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("state store: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return false, fmt.Errorf("state store: parse %s: %w", path, err)
	}
	return true, nil
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() policy.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// TriggerPolicy returns a copy of the trigger configuration.
func (s *Store) TriggerPolicy() policy.TriggerPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Trigger.Clone()
}

// Rule returns a copy of the rule for tag.
func (s *Store) Rule(tag policy.TagID) (policy.PunishmentRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.state.Rules[tag]
	if !ok || rule == nil {
		return policy.PunishmentRule{}, false
	}
	return rule.Clone(), true
}

// Rules returns copies of all rules ordered by tag.
func (s *Store) Rules() []policy.PunishmentRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]policy.PunishmentRule, 0, len(s.state.Rules))
	for _, tag := range s.state.SortedRuleTags() {
		res = append(res, s.state.Rules[tag].Clone())
	}
	return res
}

// ActiveTimers returns the number of running punishment timers.
func (s *Store) ActiveTimers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rule := range s.state.Rules {
		count += len(rule.AssignedUsers)
	}
	return count
}

// AddTriggerTag adds tag to the trigger set.
func (s *Store) AddTriggerTag(tag policy.TagID) (bool, error) {
	return s.mutateTagSet(func(p *policy.TriggerPolicy) *[]policy.TagID { return &p.TriggerTags }, tag, true)
}

// RemoveTriggerTag removes tag from the trigger set.
func (s *Store) RemoveTriggerTag(tag policy.TagID) (bool, error) {
	return s.mutateTagSet(func(p *policy.TriggerPolicy) *[]policy.TagID { return &p.TriggerTags }, tag, false)
}

// AddRemovalTag adds tag to the set stripped when a trigger is present.
func (s *Store) AddRemovalTag(tag policy.TagID) (bool, error) {
	return s.mutateTagSet(func(p *policy.TriggerPolicy) *[]policy.TagID { return &p.RemovalTags }, tag, true)
}

// RemoveRemovalTag removes tag from the removal set.
func (s *Store) RemoveRemovalTag(tag policy.TagID) (bool, error) {
	return s.mutateTagSet(func(p *policy.TriggerPolicy) *[]policy.TagID { return &p.RemovalTags }, tag, false)
}

func (s *Store) mutateTagSet(set func(*policy.TriggerPolicy) *[]policy.TagID, tag policy.TagID, add bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags := set(&s.state.Trigger)
	idx := slices.Index(*tags, tag)
	switch {
	case add && idx < 0:
		*tags = append(*tags, tag)
	case !add && idx >= 0:
		*tags = slices.Delete(*tags, idx, idx+1)
	default:
		return false, nil
	}
	return true, s.persistLocked(triggerDoc)
}

// SetSweepInterval updates the trigger sweep interval (minute granularity).
func (s *Store) SetSweepInterval(interval time.Duration) error {
	if interval < time.Minute {
		return fmt.Errorf("state store: sweep interval %s below one minute", interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Trigger.SweepInterval = interval.Truncate(time.Minute)
	return s.persistLocked(triggerDoc)
}

// PutRule creates or replaces the rule for rule.Tag. Replacing a rule
// discards its running timers.
func (s *Store) PutRule(rule policy.PunishmentRule) error {
	if rule.Tag == "" {
		return fmt.Errorf("state store: rule tag required")
	}
	rule = rule.Clone()
	if rule.AssignedUsers == nil {
		rule.AssignedUsers = make(map[policy.MemberID]time.Time)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Rules[rule.Tag] = &rule
	return s.persistLocked(punishmentDoc)
}

// DeleteRule removes the rule for tag together with its timers.
func (s *Store) DeleteRule(tag policy.TagID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.Rules[tag]; !ok {
		return false, nil
	}
	delete(s.state.Rules, tag)
	return true, s.persistLocked(punishmentDoc)
}

// StartTimer records that member was first seen holding tag at now. It is
// idempotent: an existing timer keeps its original start.
func (s *Store) StartTimer(tag policy.TagID, member policy.MemberID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.state.Rules[tag]
	if !ok {
		return false, nil
	}
	if _, running := rule.AssignedUsers[member]; running {
		return false, nil
	}
	if rule.AssignedUsers == nil {
		rule.AssignedUsers = make(map[policy.MemberID]time.Time)
	}
	rule.AssignedUsers[member] = now.UTC()
	return true, s.persistLocked(punishmentDoc)
}

// RetireTimer deletes the timer for (tag, member). When startedAt is
// non-zero the timer is only deleted if it still carries that start, so a
// caller working from a snapshot never retires a newer timer.
func (s *Store) RetireTimer(tag policy.TagID, member policy.MemberID, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.state.Rules[tag]
	if !ok {
		return false, nil
	}
	current, running := rule.AssignedUsers[member]
	if !running {
		return false, nil
	}
	if !startedAt.IsZero() && !current.Equal(startedAt) {
		return false, nil
	}
	delete(rule.AssignedUsers, member)
	return true, s.persistLocked(punishmentDoc)
}

// ArmedRule returns the current rule for tag if member's timer still carries
// startedAt. A rule replaced or deleted since startedAt was read, or a timer
// retired or restarted meanwhile, reports false.
func (s *Store) ArmedRule(tag policy.TagID, member policy.MemberID, startedAt time.Time) (policy.PunishmentRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.state.Rules[tag]
	if !ok || rule == nil {
		return policy.PunishmentRule{}, false
	}
	current, running := rule.AssignedUsers[member]
	if !running || !current.Equal(startedAt) {
		return policy.PunishmentRule{}, false
	}
	return rule.Clone(), true
}

// Flush re-persists documents whose previous write failed.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, doc := range []document{triggerDoc, punishmentDoc} {
		if !s.dirty[doc] {
			continue
		}
		if err := s.persistLocked(doc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dirty reports whether any document is waiting to be re-persisted.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty[triggerDoc] || s.dirty[punishmentDoc]
}

// RecordAction notes an irreversible action for scope at the given time.
func (s *Store) RecordAction(scope string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordHistoryLocked(globalScope, at)
	if scope != "" && scope != globalScope {
		s.recordHistoryLocked(scope, at)
	}
}

// RecentCount returns number of actions recorded within window ending at now.
func (s *Store) RecentCount(window time.Duration, now time.Time) int {
	return s.RecentCountFor(globalScope, window, now)
}

// RecentCountFor returns number of actions recorded for scope within window.
func (s *Store) RecentCountFor(scope string, window time.Duration, now time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[scope]
	if window <= 0 {
		return len(entries)
	}
	threshold := now.Add(-window)
	count := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Before(threshold) {
			break
		}
		count++
	}
	return count
}

func (s *Store) recordHistoryLocked(scope string, at time.Time) {
	list := append(s.history[scope], at)
	sort.Slice(list, func(i, j int) bool { return list[i].Before(list[j]) })
	s.history[scope] = pruneHistory(list, at, s.historyRetention)
}

func (s *Store) persistLocked(doc document) error {
	var (
		path    string
		payload any
	)
	switch doc {
	case triggerDoc:
		path, payload = s.triggerPath, encodeTrigger(s.state.Trigger)
	default:
		path, payload = s.punishmentPath, encodeRules(s.state.Rules)
	}
	if path == "" {
		return nil
	}
	if err := s.writeLocked(path, payload); err != nil {
		s.dirty[doc] = true
		err = fmt.Errorf("state store: persist %s: %w", doc, err)
		if s.onPersistError != nil {
			s.onPersistError(err)
		}
		return err
	}
	delete(s.dirty, doc)
	return nil
}

func (s *Store) writeLocked(path string, payload any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	unlock, err := s.acquireLock(path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	bytes, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, bytes, 0o600); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *Store) acquireLock(lockPath string) (func(), error) {
	deadline := time.Now().Add(s.lockTimeout)
	for {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return func() {
				_ = file.Close()
				_ = os.Remove(lockPath)
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("lock file: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock timeout after %s", s.lockTimeout)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func pruneHistory(history []time.Time, now time.Time, horizon time.Duration) []time.Time {
	if horizon <= 0 || len(history) == 0 {
		return history
	}
	threshold := now.Add(-horizon)
	start := len(history)
	for i, ts := range history {
		if !ts.Before(threshold) {
			start = i
			break
		}
	}
	if start == len(history) {
		return []time.Time{}
	}
	return append([]time.Time(nil), history[start:]...)
}
