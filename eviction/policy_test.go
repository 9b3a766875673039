package eviction

import "testing"

func TestMakePolicy(t *testing.T) {
	if p, err := MakePolicy("noeviction"); err != nil || p != nil {
		t.Errorf("noeviction should yield a nil policy, got %v, %v", p, err)
	}
	if p, err := MakePolicy(""); err != nil || p != nil {
		t.Errorf("empty name should yield a nil policy, got %v, %v", p, err)
	}
	cases := map[string]bool{
		"allkeys-lru":     false,
		"volatile-lru":    true,
		"allkeys-lfu":     false,
		"volatile-lfu":    true,
		"allkeys-random":  false,
		"volatile-random": true,
		"volatile-ttl":    true,
	}
	for name, volatileOnly := range cases {
		p, err := MakePolicy(name)
		if err != nil || p == nil {
			t.Errorf("%s: unexpected result %v, %v", name, p, err)
			continue
		}
		if p.IsVolatile() != volatileOnly {
			t.Errorf("%s: IsVolatile mismatch", name)
		}
	}
	if _, err := MakePolicy("allkeys-fifo"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestLRUPick(t *testing.T) {
	samples := []Sample{
		{Key: "young", AccessMinutes: 100},
		{Key: "old", AccessMinutes: 5},
		{Key: "middle", AccessMinutes: 50},
	}
	victim, ok := (&LRUPolicy{}).Pick(samples)
	if !ok || victim.Key != "old" {
		t.Errorf("expected old, got %v", victim)
	}
}

func TestLFUPick(t *testing.T) {
	samples := []Sample{
		{Key: "hot", AccessCounter: 200},
		{Key: "cold", AccessCounter: 3},
		{Key: "warm", AccessCounter: 40},
	}
	victim, ok := (&LFUPolicy{}).Pick(samples)
	if !ok || victim.Key != "cold" {
		t.Errorf("expected cold, got %v", victim)
	}
}

func TestTTLPick(t *testing.T) {
	samples := []Sample{
		{Key: "later", ExpireAt: 9000},
		{Key: "soon", ExpireAt: 1000},
	}
	victim, ok := (&TTLPolicy{}).Pick(samples)
	if !ok || victim.Key != "soon" {
		t.Errorf("expected soon, got %v", victim)
	}
}

func TestLockedSkipped(t *testing.T) {
	samples := []Sample{
		{Key: "claimed", AccessMinutes: 1, Locked: true},
		{Key: "free", AccessMinutes: 99},
	}
	victim, ok := (&LRUPolicy{}).Pick(samples)
	if !ok || victim.Key != "free" {
		t.Errorf("expected free, got %v", victim)
	}

	victim, ok = (&RandomPolicy{}).Pick(samples)
	if !ok || victim.Key != "free" {
		t.Errorf("expected free, got %v", victim)
	}

	allLocked := []Sample{
		{Key: "a", Locked: true},
		{Key: "b", Locked: true},
	}
	if _, ok := (&LFUPolicy{}).Pick(allLocked); ok {
		t.Error("expected no victim among locked candidates")
	}
	if _, ok := (&RandomPolicy{}).Pick(allLocked); ok {
		t.Error("expected no victim among locked candidates")
	}
}
