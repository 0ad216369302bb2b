package options

import (
	"errors"
	"fmt"
	"sort"

	opts "github.com/goliatone/go-options"
	layering "github.com/goliatone/go-options/layering"
)

// Snapshot captures the immutable payload associated with a scope layer.
type Snapshot struct {
	Scope      opts.Scope
	Data       map[string]any
	SnapshotID string
}

// Resolver wraps a merged go-options value and remembers the snapshots it
// was built from so callers can tell which layer supplied a value.
type Resolver struct {
	options   *opts.Options[map[string]any]
	snapshots []Snapshot
}

var (
	// ErrNoSnapshots signals that at least one scope snapshot must be provided.
	ErrNoSnapshots = errors.New("options: at least one snapshot is required")
	errNotReady    = errors.New("options: resolver not initialised")
)

// NewResolver merges snapshots, supplied lowest priority first.
func NewResolver(snapshots ...Snapshot) (*Resolver, error) {
	if len(snapshots) == 0 {
		return nil, ErrNoSnapshots
	}

	layers := make([]opts.Layer[map[string]any], 0, len(snapshots))
	kept := make([]Snapshot, 0, len(snapshots))
	for _, snap := range snapshots {
		if snap.Scope.Name == "" {
			return nil, fmt.Errorf("options: snapshot scope name is required")
		}
		var layerOpts []opts.LayerOption[map[string]any]
		if snap.SnapshotID != "" {
			layerOpts = append(layerOpts, opts.WithSnapshotID[map[string]any](snap.SnapshotID))
		}
		payload := cloneMap(snap.Data)
		layers = append(layers, opts.NewLayer(snap.Scope, payload, layerOpts...))
		kept = append(kept, Snapshot{Scope: snap.Scope, Data: payload, SnapshotID: snap.SnapshotID})
	}

	stack, err := opts.NewStack(layers...)
	if err != nil {
		return nil, err
	}
	merged, err := stack.Merge()
	if err != nil {
		return nil, err
	}
	return &Resolver{options: merged, snapshots: kept}, nil
}

// Resolve fetches the value stored at path and returns the accompanying trace.
func (r *Resolver) Resolve(path string) (any, opts.Trace, error) {
	if r == nil || r.options == nil {
		return nil, opts.Trace{Path: path}, errNotReady
	}
	return r.options.ResolveWithTrace(path)
}

// ResolveString resolves the value at path and ensures it is a string.
func (r *Resolver) ResolveString(path string) (string, error) {
	value, _, err := r.Resolve(path)
	if err != nil {
		return "", err
	}
	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("options: path %s is not a string", path)
	}
	return str, nil
}

// Origin names the highest priority scope that defines path, or "" when no
// snapshot does.
func (r *Resolver) Origin(path string) string {
	if r == nil {
		return ""
	}
	for i := len(r.snapshots) - 1; i >= 0; i-- {
		if _, ok := r.snapshots[i].Data[path]; ok {
			return r.snapshots[i].Scope.Name
		}
	}
	return ""
}

// Keys returns every top level key defined by any snapshot, sorted.
func (r *Resolver) Keys() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]bool)
	var keys []string
	for _, snap := range r.snapshots {
		for k := range snap.Data {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return map[string]any{}
	}
	return layering.Clone(src)
}
