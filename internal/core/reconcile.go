package core

// reconcile.go merges a new reference snapshot into the stored catalog.
//
// Entities are never deleted. A key missing from the snapshot is retired by
// writing a version with MissingSince set; a retired key that comes back is
// revived with a new version that keeps its StorageID and FirstSeen.

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Reconciler compares snapshots against the stored catalog.
type Reconciler struct {
	// NewID allocates storage ids for new entities. Defaults to uuid.New.
	NewID func() uuid.UUID

	// Material lists the attributes whose change creates a new version.
	// Empty means every attribute is material.
	Material []string
}

// ReconcileResult lists the versions to write. Nothing in it has been persisted.
type ReconcileResult struct {
	ToPersist   []ReferenceEntity
	RetiredKeys []BusinessKey // sorted
	Duplicates  []RowFailure  // earlier occurrences of keys repeated in the snapshot

	Created   int
	Updated   int
	Revived   int
	Unchanged int
}

func (r *Reconciler) newID() uuid.UUID {
	if r.NewID == nil {
		return uuid.New()
	}
	return r.NewID()
}

// Reconcile computes the versions to persist for incoming taken as of asOf.
// existing should hold the latest version per key; older versions are ignored.
func (r *Reconciler) Reconcile(existing []ReferenceEntity, incoming []IncomingRecord, asOf time.Time) ReconcileResult {
	var result ReconcileResult

	current := make(map[BusinessKey]ReferenceEntity, len(existing))
	for _, e := range existing {
		if prev, ok := current[e.Key]; ok && prev.Version >= e.Version {
			continue
		}
		current[e.Key] = e
	}

	// Last occurrence of a key wins
	last := make(map[BusinessKey]int, len(incoming))
	for i, rec := range incoming {
		last[rec.Key] = i
	}

	seen := make(map[BusinessKey]struct{}, len(last))
	for i, rec := range incoming {
		if winner := last[rec.Key]; winner != i {
			result.Duplicates = append(result.Duplicates, RowFailure{
				Line:    rec.Line,
				Reason:  DuplicateKey,
				RawLine: rec.RawLine,
				Detail:  fmt.Sprintf("key %s repeated on line %d", rec.Key, incoming[winner].Line),
			})
			continue
		}
		seen[rec.Key] = struct{}{}

		prev, ok := current[rec.Key]
		switch {
		case !ok:
			result.Created++
			result.ToPersist = append(result.ToPersist, ReferenceEntity{
				StorageID:  r.newID(),
				Key:        rec.Key,
				Attributes: cloneAttributes(rec.Attributes),
				FirstSeen:  asOf,
				Version:    1,
			})
		case !prev.Active():
			result.Revived++
			result.ToPersist = append(result.ToPersist, nextVersion(prev, rec.Attributes, nil))
		case r.materialChange(prev.Attributes, rec.Attributes):
			result.Updated++
			result.ToPersist = append(result.ToPersist, nextVersion(prev, rec.Attributes, nil))
		default:
			result.Unchanged++
		}
	}

	retired := make([]BusinessKey, 0)
	for key, e := range current {
		if _, present := seen[key]; present || !e.Active() {
			continue
		}
		retired = append(retired, key)
	}
	sort.Slice(retired, func(i, j int) bool { return retired[i] < retired[j] })

	for _, key := range retired {
		e := current[key]
		missingSince := asOf
		result.ToPersist = append(result.ToPersist, nextVersion(e, e.Attributes, &missingSince))
	}
	result.RetiredKeys = retired

	return result
}

func nextVersion(prev ReferenceEntity, attrs map[string]string, missingSince *time.Time) ReferenceEntity {
	return ReferenceEntity{
		StorageID:    prev.StorageID,
		Key:          prev.Key,
		Attributes:   cloneAttributes(attrs),
		FirstSeen:    prev.FirstSeen,
		MissingSince: missingSince,
		Version:      prev.Version + 1,
	}
}

func (r *Reconciler) materialChange(old, updated map[string]string) bool {
	if len(r.Material) > 0 {
		for _, name := range r.Material {
			if old[name] != updated[name] {
				return true
			}
		}
		return false
	}

	for name, v := range updated {
		if old[name] != v {
			return true
		}
	}
	for name, v := range old {
		if updated[name] != v {
			return true
		}
	}
	return false
}

func cloneAttributes(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// Catalog is an immutable lookup over reference entities keyed by natural code.
// Retired entities stay resolvable so historical feeds can still reference them.
type Catalog struct {
	byKey  map[BusinessKey]ReferenceEntity
	active int
}

// NewCatalog indexes the latest version of each entity.
func NewCatalog(entities []ReferenceEntity) *Catalog {
	c := &Catalog{byKey: make(map[BusinessKey]ReferenceEntity, len(entities))}
	for _, e := range entities {
		if prev, ok := c.byKey[e.Key]; ok && prev.Version >= e.Version {
			continue
		}
		c.byKey[e.Key] = e
	}
	for _, e := range c.byKey {
		if e.Active() {
			c.active++
		}
	}
	return c
}

// LookupByNaturalCode resolves a single-part business key.
func (c *Catalog) LookupByNaturalCode(code string) (ReferenceEntity, bool) {
	e, ok := c.byKey[NewBusinessKey(code)]
	return e, ok
}

// Len returns the number of known entities, retired included.
func (c *Catalog) Len() int {
	return len(c.byKey)
}

// ActiveCount returns the number of entities present in the latest snapshot.
func (c *Catalog) ActiveCount() int {
	return c.active
}
