package hub

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var (
	propAccounts = []AccountID{"alice", "bob", "carol"}
	propValues   = []string{"x", "y"}
)

// step is one randomly chosen operation. Small domains keep accounts and
// payloads colliding often enough to reach every branch.
type step struct {
	Op     int
	Caller int
	IsNew  bool
	A      int
	B      int
	Null   bool
}

func genStep() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 2),
		gen.IntRange(0, len(propAccounts)-1),
		gen.Bool(),
		gen.IntRange(0, len(propValues)-1),
		gen.IntRange(0, len(propValues)-1),
		gen.Bool(),
	).Map(func(v []interface{}) step {
		return step{
			Op:     v[0].(int),
			Caller: v[1].(int),
			IsNew:  v[2].(bool),
			A:      v[3].(int),
			B:      v[4].(int),
			Null:   v[5].(bool),
		}
	})
}

func (s step) apply(cur *Record) (*Record, error) {
	caller := propAccounts[s.Caller]
	switch s.Op {
	case 0:
		var offer *string
		if !s.Null {
			offer = StringPtr(propValues[s.A])
		}
		return nextForOffer(cur, offer, s.IsNew, caller)
	case 1:
		return nextForAnswer(cur, propValues[s.A], s.IsNew, propValues[s.B], propValues[s.A], caller)
	default:
		exp := Answer{AccountID: propAccounts[s.B%len(propAccounts)], Payload: propValues[s.A], RestreamKey: propValues[s.A]}
		if s.Null && cur != nil && cur.Answer != nil {
			exp = *cur.Answer
		}
		return nextForConsume(cur, exp, caller)
	}
}

func TestMachineInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("transitions preserve record invariants", prop.ForAll(
		func(steps []step) bool {
			var cur *Record
			for _, s := range steps {
				var before *Record
				if cur != nil {
					c := cur.Clone()
					before = &c
				}
				next, err := s.apply(cur)

				// Inputs are never mutated.
				if cur != nil && !reflect.DeepEqual(*cur, *before) {
					return false
				}
				if err != nil {
					if next != nil {
						return false
					}
					continue
				}

				// The owner never holds the answer.
				if next.Answer != nil && next.Answer.AccountID == next.OwnerID {
					return false
				}
				if next.RestreamHistory == nil {
					return false
				}

				if cur != nil && !(s.Op == 0 && s.IsNew) {
					// Ownership is fixed outside of a reset.
					if next.OwnerID != cur.OwnerID {
						return false
					}
					// History only grows, and only by consume.
					grew := len(next.RestreamHistory) - len(cur.RestreamHistory)
					if s.Op == 2 && grew != 1 {
						return false
					}
					if s.Op != 2 && grew != 0 {
						return false
					}
					if !reflect.DeepEqual(next.RestreamHistory[:len(cur.RestreamHistory)], cur.RestreamHistory) {
						return false
					}
				}
				if s.Op == 2 && (next.Offer != nil || next.Answer != nil) {
					return false
				}
				cur = next
			}
			return true
		},
		gen.SliceOf(genStep()),
	))

	properties.TestingRun(t)
}
