package fingerprint

import "testing"

func TestParamsString(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{
			name:   "zero value",
			params: Params{},
			want:   "task= autofp=0 overrides=0 apply_overrides=0",
		},
		{
			name: "all options set",
			params: Params{
				Task:           "Weekly Scan",
				AutoFP:         AutoFPPartial,
				Overrides:      true,
				ApplyOverrides: true,
			},
			want: "task=Weekly Scan autofp=2 overrides=1 apply_overrides=1",
		},
		{
			name:   "overrides without apply",
			params: Params{Task: "t1", AutoFP: AutoFPFull, Overrides: true},
			want:   "task=t1 autofp=1 overrides=1 apply_overrides=0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParamsStringDistinguishesOptions(t *testing.T) {
	base := Params{Task: "t"}
	variants := []Params{
		{Task: "other"},
		{Task: "t", AutoFP: AutoFPFull},
		{Task: "t", Overrides: true},
		{Task: "t", ApplyOverrides: true},
	}
	for _, v := range variants {
		if v.String() == base.String() {
			t.Errorf("fingerprint %+v collides with base %+v", v, base)
		}
	}
}
