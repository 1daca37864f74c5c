/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package presence

import "sync"

// View is the client-side presence list rebuilt from tracker events.
type View struct {
	mu      sync.RWMutex
	entries map[string]State
}

// NewView creates an empty view.
func NewView() *View {
	return &View{entries: make(map[string]State)}
}

// Apply folds one event into the view: sync replaces, join adds, leave removes.
func (v *View) Apply(ev Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch ev.Kind {
	case KindSync:
		v.entries = make(map[string]State, len(ev.Entries))
		for _, st := range ev.Entries {
			v.entries[st.UserID] = st
		}
	case KindJoin:
		for _, st := range ev.Entries {
			v.entries[st.UserID] = st
		}
	case KindLeave:
		for _, st := range ev.Entries {
			delete(v.entries, st.UserID)
		}
	}
}

// List returns the users in join order.
func (v *View) List() []State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return sortStates(v.entries)
}

// Count returns the number of present users.
func (v *View) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// Listening returns how many present users have playback running.
func (v *View) Listening() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	n := 0
	for _, st := range v.entries {
		if st.IsListening {
			n++
		}
	}
	return n
}
