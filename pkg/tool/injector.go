package tool

import (
	"context"
	"regexp"
	"strings"
)

// Injector contributes host-side values to the injected context of matching
// tools. Pattern is either an exact tool name or a regular expression; an
// exact match is tried first so plain names never need escaping.
type Injector struct {
	Pattern string
	Provide func(ctx context.Context) map[string]any

	re     *regexp.Regexp
	reOnce bool
}

// Matches reports whether the injector applies to the named tool.
func (i *Injector) Matches(name string) bool {
	if i.Pattern == name {
		return true
	}
	if !i.reOnce {
		i.reOnce = true
		pattern := i.Pattern
		if !strings.HasPrefix(pattern, "^") {
			pattern = "^(?:" + pattern + ")$"
		}
		if re, err := regexp.Compile(pattern); err == nil {
			i.re = re
		}
	}
	return i.re != nil && i.re.MatchString(name)
}

// mergeInjected folds every matching injector's values into one map. Later
// injectors win on key collisions; injector order is registration order.
func mergeInjected(ctx context.Context, injectors []*Injector, toolName string) map[string]any {
	var merged map[string]any
	for _, inj := range injectors {
		if inj == nil || inj.Provide == nil || !inj.Matches(toolName) {
			continue
		}
		values := inj.Provide(ctx)
		if len(values) == 0 {
			continue
		}
		if merged == nil {
			merged = make(map[string]any, len(values))
		}
		for k, v := range values {
			merged[k] = v
		}
	}
	return merged
}
