// Package snapshot keeps an immutable, atomically swapped view of all rules
// so evaluation never touches the store.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/openlit/ruleengine/internal/rules"
	"github.com/openlit/ruleengine/internal/store"
)

// Snapshot is a point-in-time copy of every stored rule.
type Snapshot struct {
	ETag      string       `json:"etag"`
	Rules     []rules.Rule `json:"rules"`
	UpdatedAt time.Time    `json:"updated_at"`

	byID map[string]int
}

// Rule returns the rule with the given id.
func (s *Snapshot) Rule(id string) (rules.Rule, bool) {
	i, ok := s.byID[id]
	if !ok {
		return rules.Rule{}, false
	}
	return s.Rules[i], true
}

// Select returns the rules with the given ids in snapshot order. Unknown ids
// are skipped.
func (s *Snapshot) Select(ids []string) []rules.Rule {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]rules.Rule, 0, len(ids))
	for _, r := range s.Rules {
		if _, ok := want[r.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Active returns the ACTIVE rules in snapshot order.
func (s *Snapshot) Active() []rules.Rule {
	out := make([]rules.Rule, 0, len(s.Rules))
	for _, r := range s.Rules {
		if r.IsActive() {
			out = append(out, r)
		}
	}
	return out
}

// Build creates a snapshot from rs. The slice is copied; the ETag is a hash
// of the serialized rules so identical rule sets share an ETag.
func Build(rs []rules.Rule) *Snapshot {
	copied := make([]rules.Rule, len(rs))
	byID := make(map[string]int, len(rs))
	for i, r := range rs {
		copied[i] = r.Clone()
		byID[r.ID] = i
	}
	blob, _ := json.Marshal(copied)
	etag := fmt.Sprintf(`W/"%016x"`, xxhash.Sum64(blob))
	return &Snapshot{ETag: etag, Rules: copied, UpdatedAt: time.Now().UTC(), byID: byID}
}

// Holder publishes the current snapshot to concurrent readers.
type Holder struct {
	current   atomic.Pointer[Snapshot]
	refreshMu sync.Mutex // serializes store reads with the swap in Refresh
	notifier
}

// NewHolder returns a holder with an empty snapshot.
func NewHolder() *Holder {
	h := &Holder{notifier: newNotifier()}
	h.current.Store(Build(nil))
	return h
}

// Load returns the current snapshot. The result must not be modified.
func (h *Holder) Load() *Snapshot {
	return h.current.Load()
}

// Update swaps in s and notifies subscribers when the ETag changed.
func (h *Holder) Update(s *Snapshot) {
	prev := h.current.Swap(s)
	if prev == nil || prev.ETag != s.ETag {
		h.publish(s.ETag)
	}
}

// Refresh rebuilds the snapshot from st. Concurrent refreshes run one at a
// time so an older read never replaces a newer snapshot.
func (h *Holder) Refresh(ctx context.Context, st store.Store) (*Snapshot, error) {
	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()

	rs, err := st.ListRules(ctx, store.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	s := Build(rs)
	h.Update(s)
	return s, nil
}
