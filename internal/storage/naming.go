package storage

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"datasets/internal/dataset"
)

// CollectionPrefix starts every row-collection name.
const CollectionPrefix = "ds_"

// NewID allocates a dataset id.
func NewID() string { return uuid.NewString() }

// ResolveCollection maps a dataset id to its row-collection name: the prefix
// followed by the 32 lowercase hex digits of the UUID. The mapping is
// deterministic and the result is always a safe SQL identifier. Ids that are
// not UUIDs cannot exist, so they yield ErrNotFound.
func ResolveCollection(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: id %q", ErrNotFound, id)
	}
	return CollectionPrefix + strings.ReplaceAll(u.String(), "-", ""), nil
}

// CanonicalID returns the lowercase hyphenated form of id, or ErrNotFound.
func CanonicalID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: id %q", ErrNotFound, id)
	}
	return u.String(), nil
}

// Clock hands out UTC timestamps at microsecond precision that strictly
// increase within a process, so creation order survives equal wall times.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// Now returns the next timestamp.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	t := now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

// PrepareCreate validates meta and fills the fields a store assigns on
// creation: id, collection, version, and timestamps.
func PrepareCreate(meta dataset.Dataset, now time.Time) (dataset.Dataset, error) {
	meta.Name = strings.TrimSpace(meta.Name)
	if meta.Name == "" {
		return dataset.Dataset{}, fmt.Errorf("%w: %v", ErrInvalidArgument, dataset.ErrEmptyName)
	}
	meta.ID = NewID()
	coll, err := ResolveCollection(meta.ID)
	if err != nil {
		return dataset.Dataset{}, err
	}
	meta.Collection = coll
	meta.Version = 1
	meta.CreatedAt = now
	meta.UpdatedAt = now
	if meta.Columns == nil {
		meta.Columns = []string{}
	}
	if meta.Sample == nil {
		meta.Sample = []dataset.Row{}
	}
	return meta, nil
}

// CheckPage rejects negative paging values.
func CheckPage(skip, limit int) error {
	if skip < 0 || limit < 0 {
		return fmt.Errorf("%w: skip=%d limit=%d must not be negative", ErrInvalidArgument, skip, limit)
	}
	return nil
}

// LikePattern builds a lowercase substring pattern for LIKE ... ESCAPE '!'.
func LikePattern(query string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_", "[", "![")
	return "%" + r.Replace(strings.ToLower(query)) + "%"
}
