package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/sukl/internal/core"
)

var referenceColumns = []string{
	"storage_id", "version", "business_key", "attributes", "first_seen", "missing_since",
}

// loadReference returns the highest version per business key. Versions are
// append-only, so the latest row is the entity's current state.
func loadReference(ctx context.Context, q querier) ([]core.ReferenceEntity, error) {
	rows, err := q.Query(ctx, `
		SELECT DISTINCT ON (business_key)
			storage_id, version, business_key, attributes, first_seen, missing_since
		FROM reference_entity_versions
		ORDER BY business_key, version DESC`)
	if err != nil {
		return nil, fmt.Errorf("query reference: %w", err)
	}
	defer rows.Close()

	var entities []core.ReferenceEntity
	for rows.Next() {
		var (
			e            core.ReferenceEntity
			key          string
			attrs        map[string]string
			missingSince *time.Time
		)
		if err := rows.Scan(&e.StorageID, &e.Version, &key, &attrs, &e.FirstSeen, &missingSince); err != nil {
			return nil, fmt.Errorf("scan reference row: %w", err)
		}
		e.Key = core.BusinessKey(key)
		e.Attributes = attrs
		if e.Attributes == nil {
			e.Attributes = map[string]string{}
		}
		e.MissingSince = missingSince
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read reference: %w", err)
	}
	return entities, nil
}

// persistReference appends versions with COPY.
func persistReference(ctx context.Context, q querier, versions []core.ReferenceEntity) error {
	if len(versions) == 0 {
		return nil
	}

	n, err := q.CopyFrom(ctx, pgx.Identifier{"reference_entity_versions"}, referenceColumns,
		pgx.CopyFromSlice(len(versions), func(i int) ([]any, error) {
			return referenceRow(versions[i]), nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy reference versions: %w", err)
	}
	if n != int64(len(versions)) {
		return fmt.Errorf("copy reference versions: wrote %d of %d rows", n, len(versions))
	}
	return nil
}

func referenceRow(e core.ReferenceEntity) []any {
	attrs := e.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	var missingSince any
	if e.MissingSince != nil {
		missingSince = *e.MissingSince
	}
	return []any{
		e.StorageID,
		int32(e.Version),
		string(e.Key),
		attrs,
		e.FirstSeen,
		missingSince,
	}
}
