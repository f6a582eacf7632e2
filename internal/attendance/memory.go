package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"classroom/internal/apperror"
)

// MemoryRepository keeps roll calls in process memory.
type MemoryRepository struct {
	mu        sync.RWMutex
	records   map[string]*Record
	revisions []Revision
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*Record)}
}

func (r *MemoryRepository) Merge(ctx context.Context, classID, date string, records map[string]bool) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := RecordID(classID, date)
	cur, ok := r.records[id]
	if !ok {
		cur = &Record{ClassID: classID, Date: date, Records: map[string]bool{}}
		r.records[id] = cur
	}
	for k, v := range records {
		cur.Records[k] = v
	}
	cur.UpdatedAt = time.Now().UTC()
	return cloneRecord(*cur), nil
}

func (r *MemoryRepository) Get(ctx context.Context, classID, date string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rec, ok := r.records[RecordID(classID, date)]; ok {
		return cloneRecord(*rec), nil
	}
	return Record{}, apperror.ErrNotFound
}

func (r *MemoryRepository) ListForClasses(ctx context.Context, classIDs []string) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[string]struct{}, len(classIDs))
	for _, id := range classIDs {
		wanted[id] = struct{}{}
	}
	out := []Record{}
	for _, rec := range r.records {
		if _, ok := wanted[rec.ClassID]; ok {
			out = append(out, cloneRecord(*rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ClassID < out[j].ClassID
	})
	return out, nil
}

func (r *MemoryRepository) CountForClass(ctx context.Context, classID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.records {
		if rec.ClassID == classID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) AppendRevision(ctx context.Context, rev Revision) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rev.ID == "" {
		rev.ID = uuid.NewString()
	}
	if rev.SubmittedAt.IsZero() {
		rev.SubmittedAt = time.Now().UTC()
	}
	rev.Records = copyMarks(rev.Records)
	r.revisions = append(r.revisions, rev)
	return nil
}

func (r *MemoryRepository) ListRevisions(ctx context.Context, classID, date string) ([]Revision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Revision{}
	for _, rev := range r.revisions {
		if rev.ClassID == classID && rev.Date == date {
			rev.Records = copyMarks(rev.Records)
			out = append(out, rev)
		}
	}
	return out, nil
}

func cloneRecord(rec Record) Record {
	rec.Records = copyMarks(rec.Records)
	return rec
}

func copyMarks(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
