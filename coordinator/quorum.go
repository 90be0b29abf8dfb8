package coordinator

// QuorumSize returns the majority of replicaCount: floor(N/2) + 1
func QuorumSize(replicaCount int) int {
	if replicaCount <= 0 {
		return 0
	}
	return replicaCount/2 + 1
}

// IsQuorumAchieved checks if successCount is a majority of replicaCount
func IsQuorumAchieved(successCount, replicaCount int) bool {
	return replicaCount > 0 && successCount >= QuorumSize(replicaCount)
}
