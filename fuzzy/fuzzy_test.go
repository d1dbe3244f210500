package fuzzy

import "testing"

func TestDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"kitten", "sitting", 3},
		{"", "abc", 3},
		{"abc", "", 3},
		{"same", "same", 0},
	}
	for _, c := range cases {
		if got := Distance(c.a, c.b); got != c.want {
			t.Errorf("Distance(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestCleanTag(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`(megumin \(konosuba\):1.2), `, "megumin konosuba"},
		{"(tag)", "tag"},
		{"Tag:0.5", "tag"},
		{"plain tag,", "plain tag"},
	}
	for _, c := range cases {
		if got := CleanTag(c.in); got != c.want {
			t.Errorf("CleanTag(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
