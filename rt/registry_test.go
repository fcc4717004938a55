package rt_test

import (
	"testing"

	"github.com/loamlang/loamgc/interp"
	"github.com/loamlang/loamgc/rt"
)

// TestRegistry tests registration, lookup and iteration over worlds
// sharing one memory.
func TestRegistry(t *testing.T) {
	mem := interp.NewMemory(0)
	w1, err := rt.NewWorld(mem, rt.DefaultLayout())
	if err != nil {
		t.Fatal(err)
	}
	w2, err := rt.NewWorld(mem, rt.DefaultLayout())
	if err != nil {
		t.Fatal(err)
	}
	r := rt.NewRegistry()
	r.Register(w1)
	r.Register(w2)
	if r.Len() != 2 {
		t.Fatalf("registry holds %d worlds", r.Len())
	}
	if r.ByContext(w1.Mutator()) != w1 || r.ByContext(w2.Mutator()) != w2 {
		t.Error("context lookup broken")
	}
	if r.ByContext(0x1234) != nil {
		t.Error("lookup invented a world")
	}
	seen := 0
	r.Each(func(w *rt.World) bool { seen++; return true })
	if seen != 2 {
		t.Errorf("Each visited %d worlds", seen)
	}
	seen = 0
	r.Each(func(w *rt.World) bool { seen++; return false })
	if seen != 1 {
		t.Errorf("Each ignored a false return: %d visits", seen)
	}
	r.Deregister(w1)
	if r.Len() != 1 || r.ByContext(w1.Mutator()) != nil {
		t.Error("deregistration incomplete")
	}
}

// TestRegistryArmAll tests collective signal page control.
func TestRegistryArmAll(t *testing.T) {
	mem := interp.NewMemory(0)
	r := rt.NewRegistry()
	var worlds []*rt.World
	for i := 0; i < 3; i++ {
		w, err := rt.NewWorld(mem, rt.DefaultLayout())
		if err != nil {
			t.Fatal(err)
		}
		worlds = append(worlds, w)
		r.Register(w)
	}
	r.ArmAll()
	for i, w := range worlds {
		if !mem.Armed(w.PollAddr()) {
			t.Errorf("world %d signal page not armed", i)
		}
	}
	r.DisarmAll()
	for i, w := range worlds {
		if mem.Armed(w.PollAddr()) {
			t.Errorf("world %d signal page still armed", i)
		}
	}
}
