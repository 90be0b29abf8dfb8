package coordinator

import "testing"

func TestQuorumSize(t *testing.T) {
	tests := []struct {
		name         string
		replicaCount int
		want         int
	}{
		{name: "single replica", replicaCount: 1, want: 1},
		{name: "2 replicas", replicaCount: 2, want: 2},
		{name: "3 replicas", replicaCount: 3, want: 2}, // floor(3/2) + 1 = 2
		{name: "4 replicas", replicaCount: 4, want: 3},
		{name: "5 replicas", replicaCount: 5, want: 3},
		{name: "6 replicas", replicaCount: 6, want: 4},
		{name: "zero replicas", replicaCount: 0, want: 0},
		{name: "negative replicas", replicaCount: -1, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QuorumSize(tt.replicaCount); got != tt.want {
				t.Errorf("QuorumSize(%d) = %d, want %d", tt.replicaCount, got, tt.want)
			}
		})
	}
}

func TestIsQuorumAchieved(t *testing.T) {
	tests := []struct {
		successCount int
		replicaCount int
		want         bool
	}{
		{2, 3, true},
		{1, 3, false},
		{3, 3, true},
		{2, 4, false},
		{3, 5, true},
		{1, 1, true},
		{0, 0, false},
	}

	for _, tt := range tests {
		if got := IsQuorumAchieved(tt.successCount, tt.replicaCount); got != tt.want {
			t.Errorf("IsQuorumAchieved(%d, %d) = %v, want %v", tt.successCount, tt.replicaCount, got, tt.want)
		}
	}
}
