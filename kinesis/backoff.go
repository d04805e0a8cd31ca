package kinesis

import (
	"math/rand"
	"time"
)

const (
	respawnMinDelay = 1 * time.Second
	respawnMaxDelay = 30 * time.Second

	// maxWorkerRespawns bounds how often a crashed producer worker is
	// restarted before the scope gives up and reports worker death.
	maxWorkerRespawns = 8
)

// backoffDelay computes a jittered exponential delay for attempt n (1-based):
// baseDelay = min(minDelay * 2^(n-1), maxDelay), delay = baseDelay + random
// jitter in [0, baseDelay).
func backoffDelay(minDelay, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	baseDelay := minDelay << (attempt - 1)
	if baseDelay > maxDelay || baseDelay < minDelay { // overflow check
		baseDelay = maxDelay
	}

	jitter := time.Duration(rand.Int63n(int64(baseDelay)))

	return baseDelay + jitter
}
