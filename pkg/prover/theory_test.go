package prover

import (
	"go/token"
	"testing"
)

func TestFeasible(t *testing.T) {
	type atom struct {
		op    token.Token
		c     float64
		holds bool
	}
	tests := []struct {
		name    string
		integer bool
		atoms   []atom
		want    bool
	}{
		{
			name:  "open interval",
			atoms: []atom{{token.LEQ, 0, false}, {token.LSS, 1, true}},
			want:  true,
		},
		{
			name:    "no integer in open interval",
			integer: true,
			atoms:   []atom{{token.LEQ, 0, false}, {token.LEQ, 0, true}},
			want:    false,
		},
		{
			name:  "empty point",
			atoms: []atom{{token.LSS, 0, false}, {token.LEQ, 0, true}, {token.EQL, 0, false}},
			want:  false,
		},
		{
			name:  "point",
			atoms: []atom{{token.LSS, 0, false}, {token.LEQ, 0, true}},
			want:  true,
		},
		{
			name:  "two equalities",
			atoms: []atom{{token.EQL, 1, true}, {token.EQL, 2, true}},
			want:  false,
		},
		{
			name:  "equality outside bound",
			atoms: []atom{{token.EQL, 3, true}, {token.LSS, 3, true}},
			want:  false,
		},
		{
			name:    "integer range minus exclusions",
			integer: true,
			atoms: []atom{
				{token.LEQ, 0, false}, {token.LEQ, 2, true},
				{token.EQL, 1, false}, {token.EQL, 2, false},
			},
			want: false,
		},
		{
			name:    "integer range with a hole left",
			integer: true,
			atoms: []atom{
				{token.LEQ, 0, false}, {token.LEQ, 3, true},
				{token.EQL, 1, false}, {token.EQL, 2, false},
			},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var atoms []numAtom
			model := make(map[Formula]bool)
			for i, a := range tt.atoms {
				lit := Formula(2 * (i + 1))
				atoms = append(atoms, numAtom{lit: lit, sym: "x", op: a.op, c: a.c})
				model[lit] = a.holds
			}
			got := feasible(atoms, tt.integer, func(f Formula) bool { return model[f] })
			if got != tt.want {
				t.Errorf("feasible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIntegerNormalization(t *testing.T) {
	th := newTheory(NewGini())
	gt := th.num("n", token.GTR, 0, true)
	ge := th.num("n", token.GEQ, 1, true)
	if gt != ge {
		t.Errorf("n > 0 and n >= 1 map to distinct literals")
	}
	if f := th.num("n", token.EQL, 0.5, true); f != th.s.False() {
		t.Errorf("n == 0.5 over the integers is not false")
	}
	if len(th.Atoms()) != 1 {
		t.Errorf("Atoms() = %v, want a single atom", th.Atoms())
	}
}
