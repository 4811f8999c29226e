package paper

import (
	"testing"
)

func TestPaper_NeedsEmbedding(t *testing.T) {
	tests := []struct {
		name      string
		embedding []float32
		expected  bool
	}{
		{
			name:      "nil embedding",
			embedding: nil,
			expected:  true,
		},
		{
			name:      "empty embedding",
			embedding: []float32{},
			expected:  true,
		},
		{
			name:      "present embedding",
			embedding: []float32{0.1, 0.2, 0.3},
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Paper{ID: "2301.00001", Embedding: tt.embedding}
			if got := p.NeedsEmbedding(); got != tt.expected {
				t.Errorf("NeedsEmbedding() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestPaper_Text(t *testing.T) {
	tests := []struct {
		name     string
		paper    Paper
		expected string
	}{
		{
			name:     "title and abstract",
			paper:    Paper{Title: "Attention Is All You Need", Abstract: "We propose the Transformer."},
			expected: "Attention Is All You Need\n\nWe propose the Transformer.",
		},
		{
			name:     "title only",
			paper:    Paper{Title: "Attention Is All You Need"},
			expected: "Attention Is All You Need",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.paper.Text(); got != tt.expected {
				t.Errorf("Text() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestNewFilter_Normalization(t *testing.T) {
	tests := []struct {
		name       string
		categories []string
		expected   []string
	}{
		{
			name:       "sorted and deduplicated",
			categories: []string{"cs.CL", "cs.AI", "cs.CL"},
			expected:   []string{"cs.AI", "cs.CL"},
		},
		{
			name:       "whitespace and empty entries dropped",
			categories: []string{" cs.AI ", "", "cs.LG"},
			expected:   []string{"cs.AI", "cs.LG"},
		},
		{
			name:       "no categories",
			categories: nil,
			expected:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(tt.categories, PeriodMonth)
			if len(f.Categories) != len(tt.expected) {
				t.Fatalf("Categories = %v, want %v", f.Categories, tt.expected)
			}
			for i, c := range tt.expected {
				if f.Categories[i] != c {
					t.Errorf("Categories[%d] = %q, want %q", i, f.Categories[i], c)
				}
			}
		})
	}
}

func TestFilter_Key(t *testing.T) {
	tests := []struct {
		name     string
		filter   Filter
		expected string
	}{
		{
			name:     "categories and period",
			filter:   NewFilter([]string{"cs.CL", "cs.AI"}, PeriodMonth),
			expected: "papers:cs.AI,cs.CL:period=30",
		},
		{
			name:     "no categories",
			filter:   NewFilter(nil, PeriodWeek),
			expected: "papers:period=7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Key(); got != tt.expected {
				t.Errorf("Key() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFilter_KeyDeterministic(t *testing.T) {
	a := NewFilter([]string{"cs.AI", "cs.CL"}, PeriodQuarter)
	b := NewFilter([]string{"cs.CL", "cs.AI", "cs.AI"}, PeriodQuarter)

	if a.Key() != b.Key() {
		t.Errorf("equal filters produced different keys: %q vs %q", a.Key(), b.Key())
	}
}

func TestPeriod_String(t *testing.T) {
	tests := []struct {
		period   Period
		expected string
	}{
		{PeriodWeek, "week"},
		{PeriodMonth, "month"},
		{PeriodQuarter, "quarter"},
		{PeriodYear, "year"},
		{Period(14), "14d"},
	}

	for _, tt := range tests {
		if got := tt.period.String(); got != tt.expected {
			t.Errorf("Period(%d).String() = %q, want %q", int(tt.period), got, tt.expected)
		}
	}
}
