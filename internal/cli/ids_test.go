package cli

import (
	"reflect"
	"testing"
)

func TestParseIDs(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   []int64
	}{
		{"single", []string{"42"}, []int64{42}},
		{"comma list", []string{"1,2,3"}, []int64{1, 2, 3}},
		{"trailing commas", []string{"1,", ",2"}, []int64{1, 2}},
		{"spaces", []string{"4 5  6"}, []int64{4, 5, 6}},
		{"mixed", []string{"7, 8", "9"}, []int64{7, 8, 9}},
		{"junk skipped", []string{"abc,10,-3,0,1.5"}, []int64{10}},
		{"duplicates", []string{"3,3", "3"}, []int64{3}},
		{"empty", []string{"", " , "}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseIDs(tt.values)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseIDs(%q) = %v, want %v", tt.values, got, tt.want)
			}
		})
	}
}
