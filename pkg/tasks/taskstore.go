package tasks

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Task statuses. A task with a non-empty BlockedBy set is always blocked;
// completing a blocker releases its dependents back to pending.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusBlocked    = "blocked"
	StatusCompleted  = "completed"
)

// Task is a unit of work the agent tracks across a session.
type Task struct {
	ID          string
	Subject     string
	Description string
	ActiveForm  string
	Status      string
	Owner       string
	BlockedBy   []string
}

// Update describes a partial change to a task. Nil pointers and unset flags
// leave the corresponding field untouched.
type Update struct {
	Status       *string
	Owner        *string
	Blocks       []string
	HasBlocks    bool
	BlockedBy    []string
	HasBlockedBy bool
}

// UpdateResult reports the task after the change plus any side effects on
// other tasks.
type UpdateResult struct {
	Task      Task
	Blocks    []string
	Unblocked []string
	Affected  []string
	Revision  uint64
}

// Store is an in-memory task store with dependency tracking. All methods are
// safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	tasks    map[string]Task
	nextID   uint64
	revision uint64
}

func NewStore() *Store {
	return &Store{tasks: make(map[string]Task)}
}

// Create registers a new pending task and returns its id.
func (s *Store) Create(subject, description, activeForm string) (string, error) {
	if s == nil {
		return "", errors.New("task store is nil")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("subject cannot be empty")
	}
	activeForm = strings.TrimSpace(activeForm)
	if activeForm == "" {
		return "", errors.New("activeForm cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("task-%d", s.nextID)
	s.tasks[id] = Task{
		ID:          id,
		Subject:     subject,
		Description: strings.TrimSpace(description),
		ActiveForm:  activeForm,
		Status:      StatusPending,
	}
	s.revision++
	return id, nil
}

// Update applies a partial change. Unknown task ids are created on the fly so
// dependency edges can name tasks that do not exist yet.
func (s *Store) Update(id string, u Update) (*UpdateResult, error) {
	if s == nil {
		return nil, errors.New("task store is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("task id cannot be empty")
	}
	if u.Status != nil && !validStatus(*u.Status) {
		return nil, fmt.Errorf("status %q is invalid", *u.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[id]
	if !ok {
		current = Task{ID: id, Status: StatusPending}
	}
	oldStatus := current.Status

	nextBlockedBy := current.BlockedBy
	if u.HasBlockedBy {
		nextBlockedBy = normalizeIDs(u.BlockedBy, id)
	}
	if u.Status != nil && *u.Status == StatusInProgress && len(nextBlockedBy) > 0 {
		return nil, errors.New("cannot set status to in_progress while blockedBy is non-empty")
	}

	if u.Owner != nil {
		current.Owner = strings.TrimSpace(*u.Owner)
	}
	if u.Status != nil {
		current.Status = *u.Status
	}
	if u.HasBlockedBy {
		current.BlockedBy = nextBlockedBy
		for _, blocker := range current.BlockedBy {
			s.ensureLocked(blocker)
		}
	}

	affected := map[string]struct{}{}
	if u.HasBlocks {
		desired := normalizeIDs(u.Blocks, id)
		s.applyBlocksLocked(id, desired, affected)
		for _, dep := range desired {
			s.ensureLocked(dep)
		}
	}

	current = reconcile(current)
	s.tasks[id] = current

	var unblocked []string
	if oldStatus != StatusCompleted && current.Status == StatusCompleted {
		unblocked = s.unblockDownstreamLocked(id, affected)
	}

	s.revision++
	return &UpdateResult{
		Task:      current,
		Blocks:    s.blocksForLocked(id),
		Unblocked: unblocked,
		Affected:  sortedKeys(affected),
		Revision:  s.revision,
	}, nil
}

// Get returns a copy of the task.
func (s *Store) Get(id string) (Task, bool) {
	if s == nil {
		return Task{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[strings.TrimSpace(id)]
	if ok {
		task.BlockedBy = slices.Clone(task.BlockedBy)
	}
	return task, ok
}

// List returns all tasks sorted by id.
func (s *Store) List() []Task {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		task.BlockedBy = slices.Clone(task.BlockedBy)
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Store) ensureLocked(id string) {
	if id == "" {
		return
	}
	if _, ok := s.tasks[id]; ok {
		return
	}
	s.tasks[id] = Task{ID: id, Status: StatusPending}
}

// applyBlocksLocked rewires the reverse edges so that exactly the desired
// tasks carry this task in their BlockedBy set.
func (s *Store) applyBlocksLocked(blockerID string, desired []string, touched map[string]struct{}) {
	existing := s.blocksForLocked(blockerID)
	desiredSet := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		desiredSet[id] = struct{}{}
	}
	existingSet := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		existingSet[id] = struct{}{}
	}

	for _, id := range existing {
		if _, ok := desiredSet[id]; ok {
			continue
		}
		task := s.tasks[id]
		next := removeID(task.BlockedBy, blockerID)
		if slices.Equal(next, task.BlockedBy) {
			continue
		}
		task.BlockedBy = next
		s.tasks[id] = reconcile(task)
		touched[id] = struct{}{}
	}

	for _, id := range desired {
		if _, ok := existingSet[id]; ok {
			continue
		}
		task, ok := s.tasks[id]
		if !ok {
			task = Task{ID: id, Status: StatusPending}
		}
		task.BlockedBy = normalizeIDs(append(task.BlockedBy, blockerID), id)
		s.tasks[id] = reconcile(task)
		touched[id] = struct{}{}
	}
}

func (s *Store) unblockDownstreamLocked(blockerID string, touched map[string]struct{}) []string {
	var unblocked []string
	for id, task := range s.tasks {
		if !slices.Contains(task.BlockedBy, blockerID) {
			continue
		}
		wasBlocked := task.Status == StatusBlocked
		task.BlockedBy = removeID(task.BlockedBy, blockerID)
		task = reconcile(task)
		s.tasks[id] = task
		touched[id] = struct{}{}
		if wasBlocked && task.Status == StatusPending {
			unblocked = append(unblocked, id)
		}
	}
	sort.Strings(unblocked)
	return unblocked
}

func (s *Store) blocksForLocked(blockerID string) []string {
	var blocks []string
	for id, task := range s.tasks {
		if id == blockerID {
			continue
		}
		if slices.Contains(task.BlockedBy, blockerID) {
			blocks = append(blocks, id)
		}
	}
	sort.Strings(blocks)
	return blocks
}

// reconcile derives the effective status from the dependency set. Completed
// tasks keep their status; anything with blockers is blocked.
func reconcile(task Task) Task {
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.Status == StatusCompleted {
		return task
	}
	if len(task.BlockedBy) > 0 {
		task.Status = StatusBlocked
		return task
	}
	if task.Status == StatusBlocked {
		task.Status = StatusPending
	}
	return task
}

// NormalizeStatus maps loose model-supplied spellings onto a canonical status.
// Returns "" for unrecognized input.
func NormalizeStatus(value string) string {
	trimmed := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_")
	switch trimmed {
	case StatusPending, StatusInProgress, StatusBlocked, StatusCompleted:
		return trimmed
	case "complete", "done":
		return StatusCompleted
	default:
		return ""
	}
}

func validStatus(status string) bool {
	switch status {
	case StatusPending, StatusInProgress, StatusBlocked, StatusCompleted:
		return true
	}
	return false
}

// normalizeIDs trims, dedupes, drops self references and sorts.
func normalizeIDs(ids []string, self string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == self {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, existing := range ids {
		if existing == id {
			continue
		}
		out = append(out, existing)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
