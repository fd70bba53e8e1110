// Package access decides whether a principal may see a content item.
//
// Decisions are computed fresh for every request from the item's visibility
// class, its publication schedule, its password protection flag, the
// principal's identity and the principal's group memberships. Nothing is
// cached between calls.
package access

import (
	"context"
	"fmt"
	"time"
)

// Visibility is the access tier of a content item.
type Visibility int

// The numeric values are persisted and must not be reordered.
const (
	Public Visibility = iota
	Internal
	GroupRestricted
	Private
)

func (v Visibility) String() string {
	switch v {
	case Public:
		return "public"
	case Internal:
		return "internal"
	case GroupRestricted:
		return "groups"
	case Private:
		return "private"
	}
	return fmt.Sprintf("visibility(%d)", int(v))
}

// Valid reports whether v is one of the four defined classes.
func (v Visibility) Valid() bool { return v >= Public && v <= Private }

// ParseVisibility maps the textual form produced by String back to a class.
func ParseVisibility(s string) (Visibility, error) {
	for v := Public; v <= Private; v++ {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown visibility %q", s)
}

// Item is the access-relevant view of a content item.
type Item struct {
	ID         string
	OwnerID    string
	Visibility Visibility
	// GroupIDs are the groups a GroupRestricted item is shared with.
	GroupIDs []string
	// PublishAt, when set and in the future, hides the item from everyone
	// but its owner.
	PublishAt *time.Time
	Protected bool
}

// Principal identifies the requester. The zero value is anonymous.
type Principal struct {
	UserID string
}

// Anonymous is the unauthenticated principal.
var Anonymous = Principal{}

// Authenticated reports whether the principal is a signed-in user.
func (p Principal) Authenticated() bool { return p.UserID != "" }

// Owns reports whether p is the owner of item.
func (p Principal) Owns(item Item) bool {
	return p.Authenticated() && p.UserID == item.OwnerID
}

// Decision is the derived outcome for one request.
type Decision struct {
	Visible bool
	// RequiresPassword means only metadata may be released until the body has
	// been decrypted with a caller-supplied password.
	RequiresPassword bool
}

// Decide applies the decision order: schedule gate, then visibility class,
// then password protection. groups is the principal's membership set and is
// only consulted for GroupRestricted items.
func Decide(item Item, p Principal, groups []string, now time.Time) Decision {
	if !visible(item, p, groups, now) {
		return Decision{}
	}
	return Decision{Visible: true, RequiresPassword: item.Protected}
}

func visible(item Item, p Principal, groups []string, now time.Time) bool {
	owner := p.Owns(item)

	if item.PublishAt != nil && item.PublishAt.After(now) && !owner {
		return false
	}

	switch item.Visibility {
	case Public:
		return true
	case Internal:
		return p.Authenticated()
	case Private:
		return owner
	case GroupRestricted:
		return owner || (p.Authenticated() && intersects(item.GroupIDs, groups))
	}
	return false
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, g := range a {
		set[g] = struct{}{}
	}
	for _, g := range b {
		if _, ok := set[g]; ok {
			return true
		}
	}
	return false
}

// GroupLookup resolves the groups a user belongs to. It is owned by the
// persistence layer.
type GroupLookup interface {
	GroupsOf(ctx context.Context, userID string) ([]string, error)
}

// Engine evaluates decisions, fetching group memberships on demand.
type Engine struct {
	groups GroupLookup
	now    func() time.Time
}

// NewEngine returns an Engine using lookup for memberships and time.Now.
func NewEngine(lookup GroupLookup) *Engine {
	return &Engine{groups: lookup, now: time.Now}
}

// WithClock returns a copy of e reading time from now.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	c := *e
	c.now = now
	return &c
}

// Evaluate decides access to item for p. Group memberships are looked up only
// when the outcome depends on them.
func (e *Engine) Evaluate(ctx context.Context, item Item, p Principal) (Decision, error) {
	var groups []string
	if needsGroups(item, p) {
		g, err := e.groups.GroupsOf(ctx, p.UserID)
		if err != nil {
			return Decision{}, fmt.Errorf("group lookup: %w", err)
		}
		groups = g
	}
	return Decide(item, p, groups, e.now()), nil
}

// Filter returns the items p may see, in their original order. Memberships are
// fetched at most once.
func (e *Engine) Filter(ctx context.Context, p Principal, items []Item) ([]Item, error) {
	now := e.now()

	var groups []string
	fetched := false

	out := make([]Item, 0, len(items))
	for _, it := range items {
		if needsGroups(it, p) && !fetched {
			g, err := e.groups.GroupsOf(ctx, p.UserID)
			if err != nil {
				return nil, fmt.Errorf("group lookup: %w", err)
			}
			groups, fetched = g, true
		}
		if Decide(it, p, groups, now).Visible {
			out = append(out, it)
		}
	}
	return out, nil
}

func needsGroups(item Item, p Principal) bool {
	return item.Visibility == GroupRestricted && p.Authenticated() && !p.Owns(item) && len(item.GroupIDs) > 0
}
