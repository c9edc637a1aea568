package main

import "testing"

func TestUseProgressUI(t *testing.T) {
	cases := []struct {
		value   string
		want    bool
		wantErr bool
	}{
		{"on", true, false},
		{"ON", true, false},
		{" off ", false, false},
		{"fancy", false, true},
	}
	for _, tc := range cases {
		got, err := useProgressUI(tc.value)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: error expected", tc.value)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tc.value, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q: got %v, want %v", tc.value, got, tc.want)
		}
	}
	// "auto" and "" follow the terminal check; both must at least parse.
	for _, value := range []string{"", "auto"} {
		if _, err := useProgressUI(value); err != nil {
			t.Errorf("%q: %v", value, err)
		}
	}
}
