package topic

import "testing"

func TestBuilder(t *testing.T) {
	b := NewBuilder("/aefi/v1/")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"build", b.Build("events/scan", "stage-0"), "aefi/v1/events/scan/stage-0"},
		{"segment slashes trimmed", b.Build("/telemetry/position/", "stage-0"), "aefi/v1/telemetry/position/stage-0"},
		{"wildcard", b.Wildcard("online"), "aefi/v1/online/+"},
		{"all", b.All("events"), "aefi/v1/events/#"},
		{"root", b.Root(), "aefi/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
