package attendance

import "context"

// Repository persists roll calls and their revisions. Roll calls are never
// deleted.
type Repository interface {
	// Merge upserts the roll call of (classID, date): keys in records
	// overwrite, keys already stored and absent from records are kept.
	Merge(ctx context.Context, classID, date string, records map[string]bool) (Record, error)
	Get(ctx context.Context, classID, date string) (Record, error)
	ListForClasses(ctx context.Context, classIDs []string) ([]Record, error)
	CountForClass(ctx context.Context, classID string) (int, error)

	AppendRevision(ctx context.Context, rev Revision) error
	ListRevisions(ctx context.Context, classID, date string) ([]Revision, error)
}
