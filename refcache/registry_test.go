package refcache

import (
	"errors"
	"reflect"
	"testing"

	"github.com/jonwraymond/refcache/resolve"
)

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry()

	a := newTestCache(t)
	if err := reg.Register(a); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register(a); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("duplicate Register = %v, want ErrDuplicateName", err)
	}

	b, err := New("summaries")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := reg.Register(b); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if got := reg.Names(); !reflect.DeepEqual(got, []string{"results", "summaries"}) {
		t.Errorf("Names = %v", got)
	}

	if _, ok := reg.Get("results"); !ok {
		t.Error("Get(results) should succeed")
	}
	if !reg.Remove("results") {
		t.Error("Remove should succeed")
	}
	if reg.Remove("results") {
		t.Error("second Remove should report false")
	}
}

func TestRegistryCrossCacheResolve(t *testing.T) {
	reg := NewRegistry()
	ctx := asUser("alice", "s1")

	results := newTestCache(t)
	summaries, err := New("summaries")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := reg.Register(results); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register(summaries); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	r1, err := results.Set(ctx, "k", "from-results", SetOptions{})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	r2, err := summaries.Set(ctx, "k", "from-summaries", SetOptions{})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	res, err := reg.Resolve(ctx, []any{r1.ID, r2.ID}, resolve.Options{FailOnMissing: true})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	out := res.Value.([]any)
	if out[0] != "from-results" || out[1] != "from-summaries" {
		t.Errorf("cross-cache resolve = %v", out)
	}

	// References into unregistered caches resolve leniently to errors.
	res, err = reg.Resolve(ctx, "elsewhere:abcdef12", resolve.Options{})
	if err != nil {
		t.Fatalf("lenient Resolve failed: %v", err)
	}
	if res.Value != "elsewhere:abcdef12" || len(res.Errors) != 1 {
		t.Errorf("unregistered cache resolve = %+v", res)
	}
}
