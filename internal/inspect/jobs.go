package inspect

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
	"github.com/goSprinto/stethoscope-app/internal/device"
)

// job is one asynchronous scan. Requests for the same policy while it runs
// join it instead of starting another.
type job struct {
	key     string
	started time.Time
	done    chan struct{}

	// Set before done is closed.
	result compliance.ScanResult
	snap   *device.Snapshot
	err    error
	took   time.Duration

	announce sync.Once

	mu          sync.Mutex
	notify      bool
	remote      bool
	remoteLabel string
}

func newJob(key string, started time.Time) *job {
	return &job{key: key, started: started, done: make(chan struct{})}
}

// join records a caller's interest. showNotification is sticky: once any
// caller of the job earns a notification, the job delivers one.
func (j *job) join(showNotification, remote bool, label string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.notify = j.notify || showNotification
	if remote {
		j.remote = true
		j.remoteLabel = label
	}
}

func (j *job) requester() (notify, remote bool, label string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.notify, j.remote, j.remoteLabel
}

// policyKey identifies a policy by content.
func policyKey(p compliance.Policy) string {
	raw, _ := json.Marshal(p)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
