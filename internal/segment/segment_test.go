package segment

import "testing"

func TestSegmentName(t *testing.T) {
	tests := []struct {
		name      string
		reference string
		wantName  string
		wantStem  string
	}{
		{"plain relative", "0001.ts", "0001.ts", "0001"},
		{"nested relative", "2000k/hls/abc.ts", "abc.ts", "abc"},
		{"absolute with query", "https://cdn.example.com/v/42.ts?token=x&e=1", "42.ts", "42"},
		{"fragment", "seg7.ts#t=3", "seg7.ts", "seg7"},
		{"no extension", "https://cdn.example.com/chunk", "chunk", "chunk"},
		{"windows separators", `m3u8\part\9.ts`, "9.ts", "9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Segment{Reference: tt.reference}
			if got := s.Name(); got != tt.wantName {
				t.Errorf("Name() = %q, want %q", got, tt.wantName)
			}
			if got := s.Stem(); got != tt.wantStem {
				t.Errorf("Stem() = %q, want %q", got, tt.wantStem)
			}
		})
	}
}

func TestSegmentLocalName(t *testing.T) {
	s := Segment{Index: 12, Reference: "https://a.example.com/x/seg.ts"}
	if got := s.LocalName(); got != "000012_seg.ts" {
		t.Errorf("Expected 000012_seg.ts, got %s", got)
	}

	other := Segment{Index: 13, Reference: "https://b.example.com/y/seg.ts"}
	if s.LocalName() == other.LocalName() {
		t.Error("Segments sharing a basename must not share a local name")
	}
}

func TestPlaylistNames(t *testing.T) {
	p := &Playlist{Segments: []Segment{
		{Index: 0, Reference: "a.ts"},
		{Index: 1, Reference: "b.ts"},
		{Index: 2, Reference: "c.ts"},
	}}

	got := p.Names([]int{2, 0, 7})
	if len(got) != 2 || got[0] != "c.ts" || got[1] != "a.ts" {
		t.Errorf("Unexpected names %v", got)
	}

	if stems := p.Stems(); len(stems) != 3 || stems[1] != "b" {
		t.Errorf("Unexpected stems %v", stems)
	}
}

func TestClassificationString(t *testing.T) {
	if Content.String() != "content" || Ad.String() != "ad" {
		t.Errorf("Unexpected strings %q %q", Content, Ad)
	}
}

func TestPlaylistClassifyOnce(t *testing.T) {
	p := &Playlist{Segments: []Segment{{Index: 0}, {Index: 1}, {Index: 2}}}

	if err := p.Classify([]int{1}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if p.Segments[1].Class != Ad || p.Segments[0].Class != Content || p.Segments[2].Class != Content {
		t.Errorf("Unexpected classes %v %v %v", p.Segments[0].Class, p.Segments[1].Class, p.Segments[2].Class)
	}
	if !p.Classified() {
		t.Error("Expected playlist to report classified")
	}

	if err := p.Classify([]int{0}); err != ErrAlreadyClassified {
		t.Errorf("Expected ErrAlreadyClassified, got %v", err)
	}
	if p.Segments[0].Class != Content {
		t.Error("Classification must not change after the first call")
	}
}

func TestPlaylistClassifyOutOfRange(t *testing.T) {
	p := &Playlist{Segments: []Segment{{Index: 0}}}
	if err := p.Classify([]int{3}); err == nil {
		t.Error("Expected error for out-of-range index")
	}
}
