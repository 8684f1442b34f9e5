package dpsecret

import (
	"sync"

	"github.com/rotor-engine/rotor/dphash"
)

// roundEntry is the commit/reveal bookkeeping for one round.
type roundEntry struct {
	// outValues records each miner's published commitment.
	outValues map[string]dphash.Hash

	// encrypted holds, per owning miner, the encrypted shares of its
	// in-value keyed by recipient identity.
	encrypted map[string]map[string][]byte

	// decrypted holds, per owning miner, the shares other miners have
	// decrypted and republished, keyed by the republisher's identity.
	decrypted map[string]map[string][]byte

	// revealed holds in-values that have become known,
	// either revealed by their owner or reconstructed from shares.
	revealed map[string]dphash.Hash
}

func newRoundEntry() *roundEntry {
	return &roundEntry{
		outValues: make(map[string]dphash.Hash),
		encrypted: make(map[string]map[string][]byte),
		decrypted: make(map[string]map[string][]byte),
		revealed:  make(map[string]dphash.Hash),
	}
}

// Tracker is the secret-sharing bookkeeping across a bounded trailing
// window of rounds.
//
// Every lookup that finds nothing is a normal, handled outcome:
// shares for a departed miner simply stop resolving,
// they never crash a node.
type Tracker struct {
	mu sync.Mutex

	rounds map[uint64]*roundEntry
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{rounds: make(map[uint64]*roundEntry)}
}

func (t *Tracker) entry(roundNumber uint64) *roundEntry {
	e, ok := t.rounds[roundNumber]
	if !ok {
		e = newRoundEntry()
		t.rounds[roundNumber] = e
	}
	return e
}

// RecordOutValue notes the commitment owner published in the round.
func (t *Tracker) RecordOutValue(roundNumber uint64, owner string, out dphash.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entry(roundNumber).outValues[owner] = out
}

// RecordEncryptedShares stores the encrypted shares owner distributed
// for its in-value of the round.
func (t *Tracker) RecordEncryptedShares(roundNumber uint64, owner string, shares map[string][]byte) {
	if len(shares) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(roundNumber)
	dst := e.encrypted[owner]
	if dst == nil {
		dst = make(map[string][]byte, len(shares))
		e.encrypted[owner] = dst
	}
	for recipient, share := range shares {
		dst[recipient] = share
	}
}

// RecordDecryptedShare stores a share of owner's in-value that
// republisher decrypted and republished.
func (t *Tracker) RecordDecryptedShare(roundNumber uint64, owner, republisher string, share []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(roundNumber)
	dst := e.decrypted[owner]
	if dst == nil {
		dst = make(map[string][]byte)
		e.decrypted[owner] = dst
	}
	dst[republisher] = share
}

// DecryptedShares returns a copy of the decrypted shares collected for
// owner's in-value of the round.
func (t *Tracker) DecryptedShares(roundNumber uint64, owner string) map[string][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.rounds[roundNumber]
	if !ok {
		return nil
	}
	src := e.decrypted[owner]
	if src == nil {
		return nil
	}
	out := make(map[string][]byte, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// RecordRevealedInValue notes that owner's in-value for the round has
// become known.
func (t *Tracker) RecordRevealedInValue(roundNumber uint64, owner string, in dphash.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entry(roundNumber).revealed[owner] = in
}

// RevealedInValue looks up owner's in-value for the round.
// A miss is a normal outcome, reported through ok.
func (t *Tracker) RevealedInValue(roundNumber uint64, owner string) (in dphash.Hash, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, found := t.rounds[roundNumber]
	if !found {
		return dphash.Hash{}, false
	}
	in, ok = e.revealed[owner]
	return in, ok
}

// OutValue looks up the commitment owner published in the round.
func (t *Tracker) OutValue(roundNumber uint64, owner string) (out dphash.Hash, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, found := t.rounds[roundNumber]
	if !found {
		return dphash.Hash{}, false
	}
	out, ok = e.outValues[owner]
	return out, ok
}

// ReplaceIdentity rekeys every piece of bookkeeping from oldKey to
// newKey across all retained rounds, as part of a miner replacement.
// The operation is atomic with respect to other tracker calls;
// entries the old identity never had are skipped silently.
func (t *Tracker) ReplaceIdentity(oldKey, newKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.rounds {
		if v, ok := e.outValues[oldKey]; ok {
			delete(e.outValues, oldKey)
			e.outValues[newKey] = v
		}
		if v, ok := e.revealed[oldKey]; ok {
			delete(e.revealed, oldKey)
			e.revealed[newKey] = v
		}

		rekeyOwnerMap(e.encrypted, oldKey, newKey)
		rekeyOwnerMap(e.decrypted, oldKey, newKey)
	}
}

// rekeyOwnerMap moves both the owner-level entry and every
// recipient-level entry from oldKey to newKey.
func rekeyOwnerMap(m map[string]map[string][]byte, oldKey, newKey string) {
	if v, ok := m[oldKey]; ok {
		delete(m, oldKey)
		m[newKey] = v
	}
	for _, inner := range m {
		if v, ok := inner[oldKey]; ok {
			delete(inner, oldKey)
			inner[newKey] = v
		}
	}
}

// PruneBelow drops bookkeeping for every round numbered below keep.
func (t *Tracker) PruneBelow(keep uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for n := range t.rounds {
		if n < keep {
			delete(t.rounds, n)
		}
	}
}
