package trace

import "testing"

func TestSanitizeStepName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"load_image", "load_image"},
		{"Load Image", "load_image"},
		{"resize/aspect ratio!", "resize_aspect_ratio"},
		{"  padded  ", "padded"},
		{"___", "step"},
		{"", "step"},
		{"detector raw output (text)", "detector_raw_output_text"},
		{"abc123", "abc123"},
		{"UPPER-case--name", "upper_case_name"},
	}
	for _, tc := range cases {
		if got := SanitizeStepName(tc.in); got != tc.want {
			t.Errorf("SanitizeStepName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
