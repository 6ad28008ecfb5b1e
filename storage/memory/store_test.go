package memory

import (
	"context"
	"testing"

	"github.com/trezcool/masomo-dashboard/storage/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, NewDB())
}

func TestDB_Len(t *testing.T) {
	db := NewDB()
	s, _ := db.Store("dev")
	_ = s.Set(context.Background(), "a", "1")
	_ = s.Set(context.Background(), "b", "2")
	if n := db.Len("dev"); n != 2 {
		t.Errorf("Len() = %d; want 2", n)
	}
	_ = s.Clear(context.Background())
	if n := db.Len("dev"); n != 0 {
		t.Errorf("Len() after Clear() = %d; want 0", n)
	}
}
