// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

package control

// ChannelSet is the canonical selection of sensor channels for a run: an
// ordered set of secondary channel ids plus at most one designated main
// channel. The main channel, when present, is the feedback source for the
// PID engine and is never simultaneously a member of the secondary set.
type ChannelSet struct {
	secondary []uint8
	main      uint8
	hasMain   bool
}

// NewChannelSet builds a set from a main channel and a list of secondaries.
// Duplicates and any occurrence of the main channel in the secondary list
// are dropped; pass main=0 for a set with no main channel.
func NewChannelSet(main uint8, secondary ...uint8) ChannelSet {
	cs := ChannelSet{}
	if main != 0 {
		cs.main = main
		cs.hasMain = true
	}
	seen := make(map[uint8]bool, len(secondary))
	for _, ch := range secondary {
		if ch == 0 || seen[ch] || (cs.hasMain && ch == cs.main) {
			continue
		}
		seen[ch] = true
		cs.secondary = append(cs.secondary, ch)
	}
	return cs
}

// Main returns the designated feedback channel, if any
func (cs ChannelSet) Main() (uint8, bool) {
	return cs.main, cs.hasMain
}

// Secondary returns a copy of the secondary channel ids in order
func (cs ChannelSet) Secondary() []uint8 {
	return append([]uint8(nil), cs.secondary...)
}

// All returns every channel to sample each tick: the secondaries in order,
// then the main channel.
func (cs ChannelSet) All() []uint8 {
	all := append([]uint8(nil), cs.secondary...)
	if cs.hasMain {
		all = append(all, cs.main)
	}
	return all
}

// Contains reports whether ch is in the set, main included
func (cs ChannelSet) Contains(ch uint8) bool {
	if cs.hasMain && ch == cs.main {
		return true
	}
	for _, c := range cs.secondary {
		if c == ch {
			return true
		}
	}
	return false
}

// Len returns the number of channels sampled each tick
func (cs ChannelSet) Len() int {
	n := len(cs.secondary)
	if cs.hasMain {
		n++
	}
	return n
}
