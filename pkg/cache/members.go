package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zhufengning/qqclaw/pkg/onebot"
)

const DefaultMemberTTL = time.Hour

type memberKey struct {
	group int64
	user  int64
}

type memberEntry struct {
	name    string
	expires time.Time
}

// MemberFetcher lists a group's members. *onebot.API satisfies it.
type MemberFetcher interface {
	GetGroupMemberList(ctx context.Context, groupID int64) ([]onebot.Member, error)
}

// MemberDirectory caches group member display names with an absolute
// expiry. A group is fetched in bulk at most once per TTL.
type MemberDirectory struct {
	mu       sync.Mutex
	entries  map[memberKey]memberEntry
	loaded   map[int64]time.Time
	ttl      time.Duration
	inflight singleflight.Group

	nowFunc func() time.Time
}

func NewMemberDirectory(ttl time.Duration) *MemberDirectory {
	if ttl <= 0 {
		ttl = DefaultMemberTTL
	}
	return &MemberDirectory{
		entries: make(map[memberKey]memberEntry),
		loaded:  make(map[int64]time.Time),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Get returns the cached name of a member if it has not expired.
func (d *MemberDirectory) Get(groupID, userID int64) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[memberKey{groupID, userID}]
	if !ok {
		return "", false
	}
	if !d.nowFunc().Before(entry.expires) {
		delete(d.entries, memberKey{groupID, userID})
		return "", false
	}
	return entry.name, true
}

// Set stores a name, overwriting whatever was there.
func (d *MemberDirectory) Set(groupID, userID int64, name string) {
	if name == "" {
		return
	}
	d.mu.Lock()
	d.entries[memberKey{groupID, userID}] = memberEntry{name: name, expires: d.nowFunc().Add(d.ttl)}
	d.mu.Unlock()
}

func (d *MemberDirectory) Invalidate(groupID, userID int64) {
	d.mu.Lock()
	delete(d.entries, memberKey{groupID, userID})
	d.mu.Unlock()
}

// InvalidateGroup drops every entry of a group and its bulk mark.
func (d *MemberDirectory) InvalidateGroup(groupID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.entries {
		if key.group == groupID {
			delete(d.entries, key)
		}
	}
	delete(d.loaded, groupID)
}

func (d *MemberDirectory) Clear() {
	d.mu.Lock()
	d.entries = make(map[memberKey]memberEntry)
	d.loaded = make(map[int64]time.Time)
	d.mu.Unlock()
}

func (d *MemberDirectory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Populated reports whether the group was bulk-loaded within the TTL.
func (d *MemberDirectory) Populated(groupID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.loaded[groupID]
	return ok && d.nowFunc().Before(until)
}

// Populate bulk-loads a group unless it is already marked. Concurrent
// callers for the same group share one fetch.
func (d *MemberDirectory) Populate(ctx context.Context, groupID int64, fetch MemberFetcher) error {
	if d.Populated(groupID) {
		return nil
	}

	_, err, _ := d.inflight.Do(strconv.FormatInt(groupID, 10), func() (any, error) {
		if d.Populated(groupID) {
			return nil, nil
		}
		members, err := fetch.GetGroupMemberList(ctx, groupID)
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		defer d.mu.Unlock()
		now := d.nowFunc()
		for _, m := range members {
			if name := m.DisplayName(); name != "" && m.UserID != 0 {
				d.entries[memberKey{groupID, m.UserID}] = memberEntry{name: name, expires: now.Add(d.ttl)}
			}
		}
		d.loaded[groupID] = now.Add(d.ttl)
		return nil, nil
	})
	return err
}
