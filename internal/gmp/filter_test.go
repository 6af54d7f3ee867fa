package gmp

import "testing"

func TestReportFilterString(t *testing.T) {
	tests := []struct {
		name   string
		filter ReportFilter
		want   string
	}{
		{
			name:   "defaults",
			filter: ReportFilter{},
			want:   "sort-reverse=id result_hosts_only=1 min_cvss_base= min_qod= autofp=0 notes=0 apply_overrides=0 overrides=0 first=1 rows=-1 delta_states=cgns",
		},
		{
			name: "full report query",
			filter: ReportFilter{
				Levels:         LevelsDefault,
				AutoFP:         2,
				Overrides:      true,
				ApplyOverrides: true,
				Host:           "10.0.0.5",
			},
			want: "sort-reverse=id result_hosts_only=1 min_cvss_base= min_qod= levels=hmlgd autofp=2 notes=0 apply_overrides=1 overrides=1 first=1 rows=-1 delta_states=cgns host=10.0.0.5",
		},
		{
			name:   "logs excluded",
			filter: ReportFilter{Levels: LevelsNoLog},
			want:   "sort-reverse=id result_hosts_only=1 min_cvss_base= min_qod= levels=hml autofp=0 notes=0 apply_overrides=0 overrides=0 first=1 rows=-1 delta_states=cgns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.String(); got != tt.want {
				t.Errorf("String() = %q\nwant       %q", got, tt.want)
			}
		})
	}
}

func TestTaskFilterString(t *testing.T) {
	f := TaskFilter{Name: "Weekly Scan"}
	want := `permission=any owner=any rows=1 name="Weekly Scan"`
	if got := f.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	f = TaskFilter{Name: "t", Rows: 5}
	if got := f.String(); got != `permission=any owner=any rows=5 name="t"` {
		t.Errorf("String() with rows = %q", got)
	}
}
