package orders

import (
	"context"
	"strings"
	"testing"
)

func TestSelectOrderSQL_LocksRowOnlyWhenAsked(t *testing.T) {
	locked := selectOrderSQL(lockForUpdate)
	if !strings.HasSuffix(locked, "WHERE id = $1 FOR UPDATE") {
		t.Fatalf("locked query %q", locked)
	}
	if plain := selectOrderSQL(""); strings.Contains(plain, "FOR UPDATE") {
		t.Fatalf("plain query locks: %q", plain)
	}
}

func TestRepo_GetForUpdateNeedsTransaction(t *testing.T) {
	r := &Repo{}
	if _, err := r.GetForUpdate(context.Background(), "o1"); err == nil {
		t.Fatalf("expected an error outside a transaction")
	}
}
