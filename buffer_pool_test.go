package go_fvm

import "testing"

func TestDatagramPoolSizeClasses(t *testing.T) {
	p := newDatagramPool()

	tests := []struct {
		size    int
		wantCap int
	}{
		{16, 64},
		{64, 64},
		{65, 1500},
		{1500, 1500},
		{9000, 9000},
	}
	for _, tt := range tests {
		buf := p.Get(tt.size)
		if cap(buf) != tt.wantCap || len(buf) != tt.wantCap {
			t.Errorf("Get(%d) len/cap = %d/%d, want %d", tt.size, len(buf), cap(buf), tt.wantCap)
		}
		p.Put(buf)
	}

	big := p.Get(10000)
	if len(big) != 10000 {
		t.Errorf("Get(10000) len = %d", len(big))
	}
	p.Put(big)
	p.Put(nil)

	s := p.Stats()
	if s.Gets != 6 || s.Puts != 5 || s.Oversized != 1 {
		t.Errorf("Stats() = %+v, want 6 gets, 5 puts, 1 oversized", s)
	}
}
