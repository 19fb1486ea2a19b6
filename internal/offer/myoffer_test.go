package offer

import "testing"

func TestTransitionMyStatus(t *testing.T) {
	tests := []struct {
		name    string
		from    MyStatus
		to      MyStatus
		wantErr bool
	}{
		{"draft to unconfirmed", StatusDraft, StatusUnconfirmed, false},
		{"unconfirmed to active", StatusUnconfirmed, StatusActive, false},
		{"active to expired", StatusActive, StatusExpired, false},
		{"active to suspended", StatusActive, StatusSuspended, false},
		{"suspended to active", StatusSuspended, StatusActive, false},
		{"no-op transition allowed", StatusActive, StatusActive, false},
		{"cancelled is terminal", StatusCancelled, StatusActive, true},
		{"draft cannot jump to active", StatusDraft, StatusActive, true},
		{"expired cannot go back to active", StatusExpired, StatusActive, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TransitionMyStatus(tt.from, tt.to)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("TransitionMyStatus(%s, %s) succeeded, want error", tt.from, tt.to)
				}
				return
			}
			if err != nil {
				t.Fatalf("TransitionMyStatus(%s, %s) = %v", tt.from, tt.to, err)
			}
			if got != tt.to {
				t.Fatalf("TransitionMyStatus(%s, %s) = %s, want %s", tt.from, tt.to, got, tt.to)
			}
		})
	}
}
