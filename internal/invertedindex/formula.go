// Formula evaluation: §4.3's "boolean algebra over atom clauses — label,
// key-set, key-field; each atom resolves to an inverted bitset".
package invertedindex

import (
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/samber/lo"
)

// AtomKind selects which InvertedIndexes table an atom resolves against.
type AtomKind int

const (
	AtomLabel AtomKind = iota
	AtomKeyPrefix
)

// Atom is one leaf clause of a Formula.
type Atom struct {
	Kind  AtomKind
	Value string // "key=value" for AtomLabel, a key prefix for AtomKeyPrefix
}

// Formula is a boolean expression tree over Atoms: And/Or/Not combinators
// plus a leaf Atom, matching §4.3's "boolean algebra over atom clauses".
type Formula struct {
	atom *Atom
	and  []Formula
	or   []Formula
	not  *Formula
}

func NewAtom(a Atom) Formula    { return Formula{atom: &a} }
func And(fs ...Formula) Formula { return Formula{and: fs} }
func Or(fs ...Formula) Formula  { return Formula{or: fs} }
func Not(f Formula) Formula     { return Formula{not: &f} }

// Eval resolves f to a bitset of matching addresses against idx.
func (f Formula) Eval(idx *Indexes) *bitset.BitSet {
	switch {
	case f.atom != nil:
		switch f.atom.Kind {
		case AtomLabel:
			return idx.LabelBitset(f.atom.Value).Clone()
		case AtomKeyPrefix:
			return idx.KeyPrefixBitset(f.atom.Value)
		}
		return bitset.New(uint(idx.NodeCount()))
	case f.and != nil:
		return lo.Reduce(f.and, func(acc *bitset.BitSet, sub Formula, _ int) *bitset.BitSet {
			if acc == nil {
				return sub.Eval(idx)
			}
			return acc.Intersection(sub.Eval(idx))
		}, nil)
	case f.or != nil:
		return lo.Reduce(f.or, func(acc *bitset.BitSet, sub Formula, _ int) *bitset.BitSet {
			if acc == nil {
				return sub.Eval(idx)
			}
			return acc.Union(sub.Eval(idx))
		}, nil)
	case f.not != nil:
		all := fullSet(idx.NodeCount())
		return all.Difference(f.not.Eval(idx))
	default:
		return bitset.New(uint(idx.NodeCount()))
	}
}

// MatchesTags evaluates f directly against a segment's static tag set
// (§4.4's optional segment-tag filter), rather than against an
// InvertedIndexes bitset: AtomLabel atoms ("key=value") are checked for
// membership in tags, AtomKeyPrefix atoms never match a tag set and always
// evaluate false.
func (f Formula) MatchesTags(tags map[string]string) bool {
	switch {
	case f.atom != nil:
		if f.atom.Kind != AtomLabel {
			return false
		}
		k, v, ok := splitKV(f.atom.Value)
		return ok && tags[k] == v
	case f.and != nil:
		for _, sub := range f.and {
			if !sub.MatchesTags(tags) {
				return false
			}
		}
		return true
	case f.or != nil:
		for _, sub := range f.or {
			if sub.MatchesTags(tags) {
				return true
			}
		}
		return false
	case f.not != nil:
		return !f.not.MatchesTags(tags)
	default:
		return true
	}
}

func splitKV(s string) (k, v string, ok bool) {
	i := strings.IndexByte(s, '=')
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

func fullSet(n int) *bitset.BitSet {
	bs := bitset.New(uint(n))
	for i := 0; i < n; i++ {
		bs.Set(uint(i))
	}
	return bs
}
