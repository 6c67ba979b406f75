package generator_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"anyback-go/internal/anyback"
	"anyback-go/internal/archive"
	"anyback-go/internal/generator"
	"anyback-go/internal/snapshot"
	"anyback-go/internal/testutil"
)

// steppingClock advances by step on every Now call.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func mustProfile(t *testing.T, name string) generator.Profile {
	t.Helper()
	p, err := generator.LookupProfile(name)
	if err != nil {
		t.Fatalf("LookupProfile(%s) error = %v", name, err)
	}
	return p
}

func TestLookupProfile(t *testing.T) {
	if _, err := generator.LookupProfile("huge"); !errors.Is(err, anyback.ErrInvalid) {
		t.Errorf("LookupProfile(huge) error = %v, want ErrInvalid", err)
	}

	names := generator.ProfileNames()
	if got := strings.Join(names, ","); got != "tiny,small,medium,large" {
		t.Fatalf("ProfileNames() = %s", got)
	}
	prev := generator.Profile{}
	for _, n := range names {
		p := mustProfile(t, n)
		if p.Name != n {
			t.Errorf("Name = %s, want %s", p.Name, n)
		}
		if p.MaxObjectsPerIteration <= prev.MaxObjectsPerIteration || p.MaxTotalObjects <= prev.MaxTotalObjects {
			t.Errorf("profile %s does not grow over the previous one", n)
		}
		prev = p
	}
}

func TestProfile_Validate(t *testing.T) {
	base := mustProfile(t, "tiny")
	tests := []struct {
		name   string
		mutate func(p *generator.Profile)
	}{
		{"no iterations", func(p *generator.Profile) { p.Iterations = 0 }},
		{"no objects per iteration", func(p *generator.Profile) { p.MaxObjectsPerIteration = 0 }},
		{"no total objects", func(p *generator.Profile) { p.MaxTotalObjects = 0 }},
		{"tiny bodies", func(p *generator.Profile) { p.MaxBodyBytes = 10 }},
		{"no total bytes", func(p *generator.Profile) { p.MaxTotalBodyBytes = 0 }},
		{"no types", func(p *generator.Profile) { p.TypeKeys = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			if _, err := generator.Generate(p, 1, testutil.FixedTime); !errors.Is(err, anyback.ErrInvalid) {
				t.Errorf("Generate() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	prof := mustProfile(t, "small")
	a, err := generator.Generate(prof, generator.DefaultSeed, testutil.FixedTime)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	b, err := generator.Generate(prof, generator.DefaultSeed, testutil.FixedTime)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("two runs with the same seed differ")
	}

	c, err := generator.Generate(prof, generator.DefaultSeed+1, testutil.FixedTime)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if reflect.DeepEqual(a.Objects(), c.Objects()) {
		t.Errorf("different seeds produced the same objects")
	}
}

func TestGenerate_CapsHold(t *testing.T) {
	for _, name := range []string{"tiny", "small", "medium"} {
		for _, seed := range []uint64{1, 2, generator.DefaultSeed} {
			prof := mustProfile(t, name)
			plan, err := generator.Generate(prof, seed, testutil.FixedTime)
			if err != nil {
				t.Fatalf("Generate(%s, %d) error = %v", name, seed, err)
			}
			objects := plan.Objects()
			if len(objects) == 0 || len(objects) > prof.MaxTotalObjects {
				t.Errorf("%s/%d: %d objects, want 1..%d", name, seed, len(objects), prof.MaxTotalObjects)
			}
			if len(plan.Iterations) > prof.Iterations {
				t.Errorf("%s/%d: %d iterations, cap %d", name, seed, len(plan.Iterations), prof.Iterations)
			}
			if got := plan.BodyBytes(); got > prof.MaxTotalBodyBytes {
				t.Errorf("%s/%d: %d body bytes, cap %d", name, seed, got, prof.MaxTotalBodyBytes)
			}

			types := make(map[string]bool)
			for _, k := range prof.TypeKeys {
				types[k] = true
			}
			seen := make(map[string]bool)
			for _, it := range plan.Iterations {
				// Attachments may add one object beyond the per-iteration draw.
				if len(it) > prof.MaxObjectsPerIteration+1 {
					t.Errorf("%s/%d: iteration of %d objects", name, seed, len(it))
				}
			}
			for _, o := range objects {
				if !archive.LooksLikeObjectID(o.ID) {
					t.Errorf("id %q is not content-id shaped", o.ID)
				}
				if seen[o.ID] {
					t.Errorf("duplicate id %s", o.ID)
				}
				seen[o.ID] = true
				if o.BodyBytes() > prof.MaxBodyBytes {
					t.Errorf("%s: %d body bytes, cap %d", o.ID, o.BodyBytes(), prof.MaxBodyBytes)
				}
				if o.File == nil {
					if !types[o.TypeKey] {
						t.Errorf("%s: type %s not in profile", o.ID, o.TypeKey)
					}
					if !strings.Contains(o.Body, o.Token) {
						t.Errorf("%s: body lost its token", o.ID)
					}
				}
				for _, l := range o.Links {
					if !seen[l] {
						t.Errorf("%s links to %s, which is not an earlier object", o.ID, l)
					}
				}
			}
		}
	}
}

func TestObject_Snapshot(t *testing.T) {
	plan, err := generator.Generate(mustProfile(t, "tiny"), generator.DefaultSeed, testutil.FixedTime)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	for _, o := range plan.Objects() {
		data, err := o.Snapshot()
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		snap, err := snapshot.Decode(data)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if snap.ID() != o.ID || snap.Name() != o.Name || snap.TypeKey() != o.TypeKey {
			t.Errorf("decoded %s/%s/%s, want %s/%s/%s", snap.ID(), snap.Name(), snap.TypeKey(), o.ID, o.Name, o.TypeKey)
		}
		if snap.IsFile() != (o.File != nil) {
			t.Errorf("%s: IsFile() = %v", o.ID, snap.IsFile())
		}
		if mod, _ := snap.LastModified(); !mod.Equal(o.Modified) {
			t.Errorf("%s: LastModified() = %v, want %v", o.ID, mod, o.Modified)
		}
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	plan, err := generator.Generate(mustProfile(t, "small"), generator.DefaultSeed, testutil.FixedTime)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	t.Run("stores every object", func(t *testing.T) {
		store := testutil.NewTestSpace()
		sp := testutil.SeedSpace(t, store, "Fuzz")
		res, err := generator.Seed(ctx, store, sp.ID, plan, testutil.FixedClock())
		if err != nil {
			t.Fatalf("Seed() error = %v", err)
		}
		if res.Truncated || res.Iterations != len(plan.Iterations) {
			t.Errorf("Seed() = %+v, want all %d iterations", res, len(plan.Iterations))
		}
		objs, err := store.ListObjects(ctx, sp.ID, anyback.ObjectFilter{IncludeArchived: true})
		if err != nil {
			t.Fatalf("ListObjects() error = %v", err)
		}
		if len(objs) != len(plan.Objects()) {
			t.Errorf("space holds %d objects, want %d", len(objs), len(plan.Objects()))
		}
	})

	t.Run("time budget keeps a prefix", func(t *testing.T) {
		if len(plan.Iterations) < 2 {
			t.Skip("plan has a single iteration")
		}
		truncated := *plan
		truncated.Profile.MaxDuration = 2 * time.Minute
		clock := &steppingClock{now: testutil.FixedTime, step: time.Minute}

		store := testutil.NewTestSpace()
		sp := testutil.SeedSpace(t, store, "Fuzz")
		res, err := generator.Seed(ctx, store, sp.ID, &truncated, clock)
		if err != nil {
			t.Fatalf("Seed() error = %v", err)
		}
		if !res.Truncated || res.Iterations != 1 {
			t.Fatalf("Seed() = %+v, want truncation after one iteration", res)
		}
		var want []string
		for _, o := range plan.Iterations[0] {
			want = append(want, o.ID)
		}
		if !reflect.DeepEqual(res.Created, want) {
			t.Errorf("Created = %v, want the first iteration in order", res.Created)
		}
	})

	t.Run("unknown space", func(t *testing.T) {
		store := testutil.NewTestSpace()
		_, err := generator.Seed(ctx, store, "nope", plan, testutil.FixedClock())
		if !errors.Is(err, anyback.ErrSpaceNotFound) {
			t.Errorf("Seed() error = %v, want ErrSpaceNotFound", err)
		}
	})
}
