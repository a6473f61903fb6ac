// Copyright 2026 The Servo Authors
//
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

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("servo/tools")

type registryEntry struct {
	tool   Tool
	server string
	local  bool
}

// Registry holds the resolved tool set. Local tools are authoritative; remote
// tools with colliding names resolve to the lexicographically first server.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
	version atomic.Uint64

	maxOutputLen int

	loggedCollisions map[string]bool
}

// NewRegistry creates an empty registry. maxOutputLen bounds normalized tool
// output; 0 disables the bound.
func NewRegistry(maxOutputLen int) *Registry {
	return &Registry{
		entries:          make(map[string]registryEntry),
		maxOutputLen:     maxOutputLen,
		loggedCollisions: make(map[string]bool),
	}
}

// Version increments on every mutation. Selectors use it to invalidate
// derived caches.
func (r *Registry) Version() uint64 {
	return r.version.Load()
}

// RegisterLocal installs a local tool, overwriting any previous binding for
// the same name.
func (r *Registry) RegisterLocal(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Info().Name
	r.entries[name] = registryEntry{tool: tool, local: true}
	r.version.Add(1)
}

// RegisterRemote installs a tool discovered from a remote server. When two
// servers expose the same tool name, the lexicographically first server name
// wins and the collision is logged once. Local tools are never displaced.
func (r *Registry) RegisterRemote(serverName string, tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Info().Name
	existing, ok := r.entries[name]
	if ok {
		if existing.local || existing.server <= serverName {
			if !r.loggedCollisions[name] {
				slog.Warn("Duplicate tool name, keeping earlier binding",
					"tool", name,
					"kept_server", existing.server,
					"dropped_server", serverName)
				r.loggedCollisions[name] = true
			}
			return
		}
		if !r.loggedCollisions[name] {
			slog.Warn("Duplicate tool name, keeping earlier binding",
				"tool", name,
				"kept_server", serverName,
				"dropped_server", existing.server)
			r.loggedCollisions[name] = true
		}
	}

	r.entries[name] = registryEntry{tool: tool, server: serverName}
	r.version.Add(1)
}

// LoadSource discovers every tool the source offers and registers them as
// remote tools under the source name.
func (r *Registry) LoadSource(ctx context.Context, source Source) error {
	discovered, err := source.Discover(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover tools from %q: %w", source.Name(), err)
	}
	for _, tool := range discovered {
		r.RegisterRemote(source.Name(), tool)
	}
	slog.Info("Loaded tool source", "source", source.Name(), "tools", len(discovered))
	return nil
}

// Remove unregisters a tool by name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		delete(r.entries, name)
		r.version.Add(1)
	}
}

// Get returns the tool bound to name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return entry.tool, true
}

// List returns all registered tool descriptors sorted by name.
func (r *Registry) List() []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ToolInfo, 0, len(r.entries))
	for _, entry := range r.entries {
		infos = append(infos, entry.tool.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Execute invokes a tool by name with a per-call timeout, normalizing and
// bounding the output text.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, timeout time.Duration) (string, error) {
	ctx, span := tracer.Start(ctx, "tools.Execute",
		trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	tool, ok := r.Get(name)
	if !ok {
		err := fmt.Errorf("tool %q not found", name)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := tool.Call(ctx, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("tool %q failed: %w", name, err)
	}

	text := Normalize(result)
	bounded := Truncate(text, r.maxOutputLen)
	span.SetAttributes(attribute.Int("tool.output_bytes", len(bounded)))
	return bounded, nil
}
