package gaps

import (
	"testing"
)

func TestRanges(t *testing.T) {
	tests := []struct {
		name   string
		epochs []uint64
		want   []Range
	}{
		{name: "empty", epochs: nil, want: nil},
		{name: "single", epochs: []uint64{7}, want: []Range{{7, 7}}},
		{name: "one run", epochs: []uint64{3, 4, 5}, want: []Range{{3, 5}}},
		{name: "runs", epochs: []uint64{1, 2, 4, 7, 8, 9}, want: []Range{{1, 2}, {4, 4}, {7, 9}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Ranges(tt.epochs)
			if len(got) != len(tt.want) {
				t.Fatalf("Ranges(%v) = %v, want %v", tt.epochs, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Ranges(%v)[%d] = %v, want %v", tt.epochs, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRange_StringAndSize(t *testing.T) {
	if s := (Range{Start: 5, End: 9}).String(); s != "5-9" {
		t.Errorf("String() = %q, want 5-9", s)
	}
	if s := (Range{Start: 5, End: 5}).String(); s != "5" {
		t.Errorf("String() = %q, want 5", s)
	}
	if n := (Range{Start: 5, End: 9}).Size(); n != 5 {
		t.Errorf("Size() = %d, want 5", n)
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		input   string
		want    Range
		wantErr bool
	}{
		{input: "356160-359330", want: Range{356160, 359330}},
		{input: " 10 - 12 ", want: Range{10, 12}},
		{input: "42", want: Range{42, 42}},
		{input: "12-10", wantErr: true},
		{input: "a-b", wantErr: true},
		{input: "", wantErr: true},
		{input: "-5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRange(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseRange(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRange(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseRange(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
