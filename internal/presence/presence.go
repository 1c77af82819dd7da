// Package presence tracks which administrators currently hold a live
// connection.
package presence

import (
	"cmp"
	"slices"

	"github.com/npezzotti/go-supportchat/internal/types"
)

// Registry maps connection ids to admin identities. It is not safe for
// concurrent use; the socket hub mutates it from its run loop only.
type Registry struct {
	entries map[string]types.AdminIdentity
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]types.AdminIdentity)}
}

// Join records identity for connId, replacing any previous entry.
func (r *Registry) Join(connId string, identity types.AdminIdentity) {
	r.entries[connId] = identity
}

// Leave removes connId and reports whether it was present.
func (r *Registry) Leave(connId string) bool {
	if _, ok := r.entries[connId]; !ok {
		return false
	}
	delete(r.entries, connId)
	return true
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// List returns a snapshot sorted by display name, then email.
func (r *Registry) List() []types.AdminIdentity {
	list := make([]types.AdminIdentity, 0, len(r.entries))
	for _, identity := range r.entries {
		list = append(list, identity)
	}

	slices.SortFunc(list, func(a, b types.AdminIdentity) int {
		if c := cmp.Compare(a.DisplayName, b.DisplayName); c != 0 {
			return c
		}
		return cmp.Compare(a.Email, b.Email)
	})

	return list
}
