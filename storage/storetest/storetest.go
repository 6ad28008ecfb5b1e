// Package storetest holds the behavior every session.Store backend must share.
package storetest

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/trezcool/masomo-dashboard/core/session"
)

// Run checks the Stores opened by factory. factory must start empty.
func Run(t *testing.T, factory session.StoreFactory) {
	ctx := context.Background()
	open := func(t *testing.T, ns string) session.Store {
		t.Helper()
		s, err := factory.Store(ns)
		if err != nil {
			t.Fatalf("Store(%s) failed: %v", ns, err)
		}
		return s
	}
	get := func(t *testing.T, s session.Store, key string) (string, bool) {
		t.Helper()
		val, err := s.Get(ctx, key)
		if session.IsNotFound(err) {
			return "", false
		}
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", key, err)
		}
		return val, true
	}

	t.Run("missing key", func(t *testing.T) {
		s := open(t, "missing")
		if _, err := s.Get(ctx, "nope"); !session.IsNotFound(err) {
			t.Errorf("Get() error = %v; want ErrNotFound", err)
		}
	})

	t.Run("set get overwrite", func(t *testing.T) {
		s := open(t, "rw")
		values := []string{"", "plain", `{"user":{"id":1},"expiresAt":"2026-03-02T08:00:00Z"}`, "ünïcode ✓"}
		for _, v := range values {
			if err := s.Set(ctx, session.RecordKey, v); err != nil {
				t.Fatalf("Set() failed: %v", err)
			}
			if got, ok := get(t, s, session.RecordKey); !ok || got != v {
				t.Errorf("Get() = %q, %v; want %q", got, ok, v)
			}
		}
	})

	t.Run("survives reopening", func(t *testing.T) {
		if err := open(t, "durable").Set(ctx, "k", "v"); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
		if got, ok := get(t, open(t, "durable"), "k"); !ok || got != "v" {
			t.Errorf("Get() after reopen = %q, %v; want v", got, ok)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t, "del")
		for _, k := range []string{"a", "b", "c"} {
			if err := s.Set(ctx, k, k); err != nil {
				t.Fatalf("Set() failed: %v", err)
			}
		}
		if err := s.Delete(ctx, "a", "c", "missing"); err != nil {
			t.Fatalf("Delete() failed: %v", err)
		}
		if err := s.Delete(ctx); err != nil {
			t.Fatalf("Delete() with no keys failed: %v", err)
		}
		var left []string
		for _, k := range []string{"a", "b", "c"} {
			if _, ok := get(t, s, k); ok {
				left = append(left, k)
			}
		}
		if len(left) != 1 || left[0] != "b" {
			t.Errorf("keys left = %v; want [b]", left)
		}
	})

	t.Run("clear is scoped to the namespace", func(t *testing.T) {
		s1, s2 := open(t, "device-1"), open(t, "device-2")
		for _, s := range []session.Store{s1, s2} {
			if err := s.Set(ctx, session.RecordKey, "x"); err != nil {
				t.Fatalf("Set() failed: %v", err)
			}
			if err := s.Set(ctx, "tokenExpiration", "y"); err != nil {
				t.Fatalf("Set() failed: %v", err)
			}
		}
		if err := s1.Clear(ctx); err != nil {
			t.Fatalf("Clear() failed: %v", err)
		}
		if err := s1.Clear(ctx); err != nil {
			t.Fatalf("Clear() twice failed: %v", err)
		}
		for _, k := range []string{session.RecordKey, "tokenExpiration"} {
			if _, ok := get(t, s1, k); ok {
				t.Errorf("%s survived Clear()", k)
			}
			if _, ok := get(t, s2, k); !ok {
				t.Errorf("Clear() removed %s from another namespace", k)
			}
		}
		// still usable
		if err := s1.Set(ctx, "k", "v"); err != nil {
			t.Fatalf("Set() after Clear() failed: %v", err)
		}
	})

	t.Run("concurrent writers", func(t *testing.T) {
		s := open(t, "concurrent")
		keys := []string{"k0", "k1", "k2", "k3", "k4", "k5", "k6", "k7"}
		var wg sync.WaitGroup
		for _, k := range keys {
			wg.Add(1)
			go func(k string) {
				defer wg.Done()
				if err := s.Set(ctx, k, k); err != nil {
					t.Errorf("Set(%s) failed: %v", k, err)
				}
			}(k)
		}
		wg.Wait()

		var got []string
		for _, k := range keys {
			if v, ok := get(t, s, k); ok {
				got = append(got, v)
			}
		}
		sort.Strings(got)
		if len(got) != len(keys) {
			t.Errorf("values = %v; want %v", got, keys)
		}
	})
}
