package users

import (
	"errors"
	"fmt"
	"os/user"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrUnresolvedUser is returned when a uid has no account name.
var ErrUnresolvedUser = errors.New("unresolved user")

const defaultCacheSize = 256

// LookupFunc resolves a numeric uid, in decimal form, to an account name.
type LookupFunc func(uid string) (string, error)

// Resolver maps uids to display names and remembers successful lookups.
type Resolver struct {
	cache  *lru.Cache[uint32, string]
	lookup LookupFunc
}

// NewResolver creates a resolver backed by the system account database.
func NewResolver(size int) (*Resolver, error) {
	return NewResolverWithLookup(size, systemLookup)
}

// NewResolverWithLookup creates a resolver backed by lookup.
func NewResolverWithLookup(size int, lookup LookupFunc) (*Resolver, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[uint32, string](size)
	if err != nil {
		return nil, fmt.Errorf("create user cache: %w", err)
	}
	return &Resolver{cache: cache, lookup: lookup}, nil
}

// Resolve returns the account name for uid.
// Failures are not cached, so accounts created later still resolve.
func (r *Resolver) Resolve(uid uint32) (string, error) {
	if name, ok := r.cache.Get(uid); ok {
		return name, nil
	}

	name, err := r.lookup(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return "", fmt.Errorf("%w: uid %d: %v", ErrUnresolvedUser, uid, err)
	}
	if name == "" {
		return "", fmt.Errorf("%w: uid %d has no name", ErrUnresolvedUser, uid)
	}

	r.cache.Add(uid, name)
	return name, nil
}

// Placeholder is what gets displayed for a uid that cannot be resolved.
func Placeholder(uid uint32) string {
	return strconv.FormatUint(uint64(uid), 10)
}

func systemLookup(uid string) (string, error) {
	u, err := user.LookupId(uid)
	if err != nil {
		return "", err
	}
	return u.Username, nil
}
