package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrPathNotAllowed is returned when a path escapes the configured sandbox roots.
	ErrPathNotAllowed = errors.New("security: path not in sandbox allowlist")
	// ErrCommandNotAllowed is returned when a command fails validation.
	ErrCommandNotAllowed = errors.New("security: command not allowed")
)

// deniedCommands are rejected regardless of metacharacter policy.
var deniedCommands = []string{
	"rm -rf /",
	"mkfs",
	"dd if=",
	":(){",
}

const shellMetachars = "|&;<>`$"

// Sandbox bounds what tool-driven commands may touch: filesystem prefixes
// and a command validation layer.
type Sandbox struct {
	mu        sync.RWMutex
	allowList []string
	allowMeta bool
}

// NewSandbox creates a sandbox rooted at workDir.
func NewSandbox(workDir string) *Sandbox {
	root := normalizePath(workDir)
	if root == "" {
		root = string(filepath.Separator)
	}
	return &Sandbox{allowList: []string{root}}
}

// AllowShellMetachars enables shell pipes and metacharacters.
func (s *Sandbox) AllowShellMetachars(allow bool) {
	s.mu.Lock()
	s.allowMeta = allow
	s.mu.Unlock()
}

// Allow registers additional absolute prefixes that commands may touch.
func (s *Sandbox) Allow(path string) {
	normalized := normalizePath(path)
	if normalized == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.allowList {
		if existing == normalized {
			return
		}
	}
	s.allowList = append(s.allowList, normalized)
}

// ValidatePath ensures the path resolves within the sandbox allow list.
func (s *Sandbox) ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("security: empty path supplied")
	}

	abs := normalizePath(path)

	s.mu.RLock()
	allowCopy := append([]string(nil), s.allowList...)
	s.mu.RUnlock()

	for _, allowed := range allowCopy {
		if withinSandbox(abs, allowed) {
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrPathNotAllowed, abs)
}

// ValidateCommand rejects obviously dangerous commands and, unless enabled,
// shell metacharacters.
func (s *Sandbox) ValidateCommand(cmd string) error {
	trimmed := strings.TrimSpace(cmd)
	if trimmed == "" {
		return fmt.Errorf("%w: empty command", ErrCommandNotAllowed)
	}

	lowered := strings.ToLower(trimmed)
	for _, denied := range deniedCommands {
		if strings.Contains(lowered, denied) {
			return fmt.Errorf("%w: %s", ErrCommandNotAllowed, denied)
		}
	}

	s.mu.RLock()
	allowMeta := s.allowMeta
	s.mu.RUnlock()

	if !allowMeta && strings.ContainsAny(trimmed, shellMetachars) {
		return fmt.Errorf("%w: shell metacharacters disabled", ErrCommandNotAllowed)
	}
	return nil
}

func normalizePath(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}

func withinSandbox(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	path = filepath.Clean(path)
	prefix = filepath.Clean(prefix)

	if path == prefix {
		return true
	}
	if prefix == string(filepath.Separator) {
		return true
	}
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}
