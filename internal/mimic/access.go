package mimic

import (
	"maps"
	"slices"
)

// DefaultOwner is the built-in owner identity.
const DefaultOwner UserID = "407991620164911118"

// UserID is a platform actor identifier.
type UserID string

// ToggleResult reports which side of a presence toggle happened.
type ToggleResult int

const (
	// ToggleAdded means the identity was not present and has been added.
	ToggleAdded ToggleResult = iota + 1
	// ToggleRemoved means the identity was present and has been removed.
	ToggleRemoved
)

// String returns the lower-case action name.
func (r ToggleResult) String() string {
	switch r {
	case ToggleAdded:
		return "added"
	case ToggleRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Registry holds the owner and the three identity sets.
//
// Registry is not safe for concurrent use; the Coordinator guards it.
type Registry struct {
	owner      UserID
	whitelist  map[UserID]struct{}
	blacklist  map[UserID]struct{}
	moderators map[UserID]struct{}
}

// NewRegistry creates an empty registry for owner.
func NewRegistry(owner UserID) *Registry {
	return &Registry{
		owner:      owner,
		whitelist:  make(map[UserID]struct{}),
		blacklist:  make(map[UserID]struct{}),
		moderators: make(map[UserID]struct{}),
	}
}

// Owner returns the fixed owner identity.
func (r *Registry) Owner() UserID { return r.owner }

// IsOwner reports whether id is the owner.
func (r *Registry) IsOwner(id UserID) bool {
	return id != "" && id == r.owner
}

// IsModerator reports whether id may run moderator commands.
func (r *Registry) IsModerator(id UserID) bool {
	if r.IsOwner(id) {
		return true
	}

	return has(r.moderators, id) && !has(r.blacklist, id)
}

// IsPermitted reports whether id is not blacklisted.
func (r *Registry) IsPermitted(id UserID) bool {
	return r.IsOwner(id) || !has(r.blacklist, id)
}

// IsSubscribed reports whether id opted in to having messages stored.
func (r *Registry) IsSubscribed(id UserID) bool {
	return has(r.whitelist, id)
}

// ToggleModerator adds or removes id from the moderator set.
func (r *Registry) ToggleModerator(id UserID) ToggleResult { return toggle(r.moderators, id) }

// ToggleWhitelist adds or removes id from the subscription set.
func (r *Registry) ToggleWhitelist(id UserID) ToggleResult { return toggle(r.whitelist, id) }

// ToggleBlacklist adds or removes id from the blacklist.
func (r *Registry) ToggleBlacklist(id UserID) ToggleResult { return toggle(r.blacklist, id) }

// Whitelist returns the subscribed identities sorted.
func (r *Registry) Whitelist() []UserID { return sortedIDs(r.whitelist) }

// Blacklist returns the blacklisted identities sorted.
func (r *Registry) Blacklist() []UserID { return sortedIDs(r.blacklist) }

// Moderators returns the moderator identities sorted.
func (r *Registry) Moderators() []UserID { return sortedIDs(r.moderators) }

func has(set map[UserID]struct{}, id UserID) bool {
	_, ok := set[id]
	return ok
}

func toggle(set map[UserID]struct{}, id UserID) ToggleResult {
	if has(set, id) {
		delete(set, id)
		return ToggleRemoved
	}
	set[id] = struct{}{}

	return ToggleAdded
}

func sortedIDs(set map[UserID]struct{}) []UserID {
	return slices.Sorted(maps.Keys(set))
}

func idSet(ids []UserID) map[UserID]struct{} {
	set := make(map[UserID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	return set
}
