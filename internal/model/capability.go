package model

import (
	"fmt"
	"sort"
	"strings"
)

// Capability is the routing tag that selects the executor of a task.
type Capability string

const (
	CapabilityFile      Capability = "file"
	CapabilityDir       Capability = "dir"
	CapabilitySearch    Capability = "search"
	CapabilityApp       Capability = "app"
	CapabilityBrowser   Capability = "browser"
	CapabilitySystem    Capability = "system"
	CapabilityClipboard Capability = "clipboard"
	CapabilityCommand   Capability = "command"
	CapabilityScript    Capability = "script"
	CapabilityCompose   Capability = "compose"
	CapabilityContainer Capability = "container"
)

var capabilities = map[Capability]struct{}{
	CapabilityFile:      {},
	CapabilityDir:       {},
	CapabilitySearch:    {},
	CapabilityApp:       {},
	CapabilityBrowser:   {},
	CapabilitySystem:    {},
	CapabilityClipboard: {},
	CapabilityCommand:   {},
	CapabilityScript:    {},
	CapabilityCompose:   {},
	CapabilityContainer: {},
}

// Valid returns true if the capability is one of the known ones.
func (c Capability) Valid() bool {
	_, ok := capabilities[c]
	return ok
}

// ParseOperation splits an operation string in the form `capability.action`
// (e.g `file.read`). An operation without action (e.g `command`) is valid.
func ParseOperation(op string) (Capability, string, error) {
	op = strings.TrimSpace(op)
	if op == "" {
		return "", "", fmt.Errorf("operation is required: %w", ErrNotValid)
	}

	c, action, _ := strings.Cut(op, ".")
	capability := Capability(strings.ToLower(c))
	if !capability.Valid() {
		return "", "", fmt.Errorf("unknown capability %q: %w", c, ErrNotValid)
	}

	return capability, action, nil
}

// Capabilities returns all the known capabilities sorted.
func Capabilities() []Capability {
	cs := make([]Capability, 0, len(capabilities))
	for c := range capabilities {
		cs = append(cs, c)
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i] < cs[j] })
	return cs
}
