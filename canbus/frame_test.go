package canbus

import "testing"

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		f    Frame
		want error
	}{
		"standard ok":      {Frame{ID: 0x7FF, Len: 8}, nil},
		"standard id high": {Frame{ID: 0x800}, ErrInvalidID},
		"extended ok":      {Frame{ID: 0x1FFFFFFF, Extended: true}, nil},
		"extended id high": {Frame{ID: 0x20000000, Extended: true}, ErrInvalidID},
		"length high":      {Frame{ID: 1, Len: 9}, ErrInvalidLen},
	}
	for name, c := range cases {
		if err := c.f.Validate(); err != c.want {
			t.Fatalf("%s: got %v, want %v", name, err, c.want)
		}
	}
}

func TestNewFramePanicsOnOversizedPayload(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("no panic")
		}
	}()
	NewFrame(0x1, make([]byte, 9))
}

func TestNewFrameCopiesPayload(t *testing.T) {
	data := []byte{1, 2, 3}
	f := NewFrame(0x42, data)
	data[0] = 99
	if f.Len != 3 || f.Data[0] != 1 {
		t.Fatalf("frame aliases caller data: %+v", f)
	}
	if got := f.Payload(); len(got) != 3 || got[2] != 3 {
		t.Fatalf("payload: %v", got)
	}
}

func TestFilterMatches(t *testing.T) {
	cases := map[string]struct {
		flt  Filter
		f    Frame
		want bool
	}{
		"exact":          {Filter{ID: 0x100, Mask: 0x7FF}, Frame{ID: 0x100}, true},
		"exact miss":     {Filter{ID: 0x100, Mask: 0x7FF}, Frame{ID: 0x101}, false},
		"range":          {Filter{ID: 0x100, Mask: 0x700}, Frame{ID: 0x155}, true},
		"range miss":     {Filter{ID: 0x100, Mask: 0x700}, Frame{ID: 0x255}, false},
		"accept all":     {Filter{Mask: 0}, Frame{ID: 0x3FF}, true},
		"width mismatch": {Filter{ID: 0x100, Mask: 0x7FF}, Frame{ID: 0x100, Extended: true}, false},
		"extended":       {Filter{ID: 0x18DA00F1, Mask: 0x1FFFFFFF, Extended: true}, Frame{ID: 0x18DA00F1, Extended: true}, true},
	}
	for name, c := range cases {
		if got := c.flt.Matches(c.f); got != c.want {
			t.Fatalf("%s: got %v, want %v", name, got, c.want)
		}
	}
}
