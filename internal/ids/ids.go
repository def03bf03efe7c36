package ids

import (
	"crypto/rand"
	"fmt"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Identifier prefixes.
const (
	PrefixTransaction = "TRNX"
	PrefixRequest     = "REQ"
	PrefixBill        = "BILL"
	PrefixAccount     = "ACC"
)

const (
	dateLayout = "20060102"
	suffixLen  = 10
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	return newULID(time.Now()).String()
}

func newULID(t time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		// monotonic overflow within one millisecond; fall back to fresh randomness
		id = ulid.MustNew(ulid.Timestamp(t), rand.Reader)
	}
	return id
}

// Generator issues {PREFIX}-{YYYYMMDD}-{suffix} identifiers. The suffix is the
// random tail of a ULID; uniqueness is ultimately enforced by the store, which
// asks for a fresh id on collision.
type Generator struct {
	now func() time.Time
}

// NewGenerator returns a Generator using now as its clock (time.Now when nil).
func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// Next returns a new identifier for prefix.
func (g *Generator) Next(prefix string) string {
	t := g.now().UTC()
	s := newULID(t).String()
	return fmt.Sprintf("%s-%s-%s", prefix, t.Format(dateLayout), s[len(s)-suffixLen:])
}

// Parse splits an identifier into its prefix, issue date and suffix.
func Parse(id string) (prefix string, day time.Time, suffix string, err error) {
	parts := strings.SplitN(id, "-", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", time.Time{}, "", fmt.Errorf("invalid identifier format: %q", id)
	}
	day, err = time.Parse(dateLayout, parts[1])
	if err != nil {
		return "", time.Time{}, "", fmt.Errorf("invalid date in identifier %q: %w", id, err)
	}
	return parts[0], day, parts[2], nil
}

// HasPrefix reports whether id is well formed and issued under prefix.
func HasPrefix(id, prefix string) bool {
	p, _, _, err := Parse(id)
	return err == nil && p == prefix
}
