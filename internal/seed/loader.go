// Package seed loads policy documents from a directory of YAML files and keeps the
// store in step with them.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/filipexyz/authpolicy/internal/domain"
	"github.com/filipexyz/authpolicy/internal/schema"
)

// Actor is recorded in the audit metadata of every seed-driven mutation.
const Actor = "system:seed"

// supportedVersions is the range of seed file formats this loader reads.
var supportedVersions = mustConstraint(">= 1.0.0, < 2.0.0")

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

// Store is the subset of the policy service the loader drives.
type Store interface {
	List(ctx context.Context, filter domain.Filter) ([]*domain.AuthPolicy, error)
	Create(ctx context.Context, d domain.Draft, meta domain.AuditMetadata) (*domain.AuthPolicy, error)
	Commit(ctx context.Context, id string, expectedVersion int, changes domain.Changes, meta domain.AuditMetadata) (*domain.AuthPolicy, error)
	Transition(ctx context.Context, id string, to domain.Status, meta domain.AuditMetadata) (*domain.AuthPolicy, error)
}

// File is one seed document.
type File struct {
	APIVersion string     `yaml:"api_version"`
	Policies   []Document `yaml:"policies"`
}

// Document is a policy draft plus its desired lifecycle status.
type Document struct {
	Status domain.Status
	Draft  domain.Draft
	raw    map[string]any
}

func (d *Document) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if s, ok := raw["status"].(string); ok {
		d.Status = domain.Status(s)
		delete(raw, "status")
	}
	if d.Status == "" {
		d.Status = domain.StatusDraft
	}
	d.raw = raw
	return nil
}

// Loader applies seed files and reapplies them when the directory changes.
type Loader struct {
	dir   string
	store Store
}

// NewLoader creates a seed loader over dir. The directory is created when missing.
func NewLoader(dir string, store Store) (*Loader, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create policy directory: %w", err)
	}
	return &Loader{dir: dir, store: store}, nil
}

// Result summarises one pass over the directory.
type Result struct {
	Created     int
	Updated     int
	Transitions int
	Unchanged   int
	Failed      int
}

// LoadAll applies every seed file in the directory, in name order.
// A bad file or document is logged and skipped.
func (l *Loader) LoadAll(ctx context.Context) (Result, error) {
	var res Result
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return res, fmt.Errorf("failed to read policy directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isYAMLFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(l.dir, name)
		f, err := ParseFile(path)
		if err != nil {
			slog.Error("failed to load seed file", "path", path, "error", err)
			res.Failed++
			continue
		}
		for i := range f.Policies {
			if err := l.apply(ctx, &f.Policies[i], &res); err != nil {
				slog.Error("failed to apply seed policy", "path", path, "index", i, "error", err)
				res.Failed++
			}
		}
	}
	slog.Info("seed policies applied", "dir", l.dir, "created", res.Created, "updated", res.Updated,
		"transitions", res.Transitions, "unchanged", res.Unchanged, "failed", res.Failed)
	return res, nil
}

// ParseFile reads, version-checks and schema-validates a seed file.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if f.APIVersion == "" {
		return nil, fmt.Errorf("api_version is required")
	}
	v, err := semver.NewVersion(f.APIVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid api_version %q: %w", f.APIVersion, err)
	}
	if !supportedVersions.Check(v) {
		return nil, fmt.Errorf("unsupported api_version %s (want %s)", v, supportedVersions)
	}

	for i := range f.Policies {
		doc := &f.Policies[i]
		if !doc.Status.Valid() {
			return nil, fmt.Errorf("policies[%d]: unknown status %q", i, doc.Status)
		}
		if err := schema.ValidateDraftValue(doc.raw); err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
		encoded, err := json.Marshal(doc.raw)
		if err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
		if err := json.Unmarshal(encoded, &doc.Draft); err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
	}
	return &f, nil
}

// apply reconciles one document with the store, matching existing policies by name.
func (l *Loader) apply(ctx context.Context, doc *Document, res *Result) error {
	meta := domain.AuditMetadata{Actor: Actor, Reason: "seed file"}

	existing, err := l.findByName(ctx, doc.Draft.Name)
	if err != nil {
		return err
	}
	if existing == nil {
		p, err := l.store.Create(ctx, doc.Draft, meta)
		if err != nil {
			return err
		}
		res.Created++
		return l.settle(ctx, p, doc.Status, meta, res)
	}

	changes := changesFor(doc.Draft)
	next := existing.Clone()
	changes.Apply(next)
	if len(domain.Diff(existing, next).Fields) > 0 {
		p, err := l.store.Commit(ctx, existing.ID, existing.Version, changes, meta)
		if err != nil {
			return err
		}
		res.Updated++
		existing = p
	} else if existing.Status == doc.Status {
		res.Unchanged++
	}
	return l.settle(ctx, existing, doc.Status, meta, res)
}

// settle moves p toward the desired status when the lifecycle allows it.
func (l *Loader) settle(ctx context.Context, p *domain.AuthPolicy, want domain.Status, meta domain.AuditMetadata, res *Result) error {
	if p.Status == want {
		return nil
	}
	if !domain.CanTransition(p.Status, want) {
		slog.Warn("seed status not reachable", "policy_id", p.ID, "from", p.Status, "to", want)
		return nil
	}
	if _, err := l.store.Transition(ctx, p.ID, want, meta); err != nil {
		return err
	}
	res.Transitions++
	return nil
}

func (l *Loader) findByName(ctx context.Context, name string) (*domain.AuthPolicy, error) {
	list, err := l.store.List(ctx, domain.Filter{Statuses: []domain.Status{domain.StatusDraft, domain.StatusActive, domain.StatusInactive}})
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, nil
}

func changesFor(d domain.Draft) domain.Changes {
	conds := d.Conditions
	if conds == nil {
		conds = domain.Conditions{}
	}
	c := domain.Changes{
		Name:        &d.Name,
		Description: &d.Description,
		Type:        &d.Type,
		Scope:       &d.Scope,
		Conditions:  &conds,
		Rules:       d.Rules,
		Priority:    &d.Priority,
	}
	if d.Rollout != nil {
		c.Rollout = d.Rollout
	}
	return c
}

// Watch reapplies the directory whenever a YAML file changes, until ctx is done.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("failed to watch policy directory: %w", err)
	}

	debounce := time.NewTimer(0)
	<-debounce.C // Drain initial timer

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isYAMLFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				// Wait for 200ms of inactivity before reloading
				debounce.Reset(200 * time.Millisecond)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("seed watcher error", "error", err)

		case <-debounce.C:
			slog.Info("seed files changed, reloading", "dir", l.dir)
			if _, err := l.LoadAll(ctx); err != nil {
				slog.Error("failed to reload seed files", "error", err)
			}

		case <-ctx.Done():
			return nil
		}
	}
}

func isYAMLFile(filename string) bool {
	ext := filepath.Ext(filename)
	return ext == ".yaml" || ext == ".yml"
}
