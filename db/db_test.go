package db

import "testing"

func TestInArgs(t *testing.T) {
	clause, args := InArgs([]string{"a", "b", "c"}, 2)
	if clause != "($2,$3,$4)" {
		t.Errorf("clause = %s, want ($2,$3,$4)", clause)
	}
	if len(args) != 3 || args[0] != "a" || args[2] != "c" {
		t.Errorf("args = %v, want [a b c]", args)
	}
}

func TestInArgsSingle(t *testing.T) {
	clause, args := InArgs([]string{"only"}, 1)
	if clause != "($1)" {
		t.Errorf("clause = %s, want ($1)", clause)
	}
	if len(args) != 1 {
		t.Errorf("args length = %d, want 1", len(args))
	}
}
