package broker

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/sentinel/securitygate/pkg/id"
)

// How long a failing message is remembered after its last failure
const redeliveryTTL = 30 * time.Minute

// redeliveryTracker counts how often the same message body failed so a
// message that can never be handled stops bouncing between the queue and
// the consumer
type redeliveryTracker struct {
	max      int
	failures *cache.Cache
}

func newRedeliveryTracker(max int) *redeliveryTracker {
	return &redeliveryTracker{
		max:      max,
		failures: cache.New(redeliveryTTL, redeliveryTTL/2),
	}
}

// shouldRequeue records a failure for body and reports whether it can be
// tried again. A max of zero or less never gives up.
func (t *redeliveryTracker) shouldRequeue(body []byte) bool {
	if t.max <= 0 {
		return true
	}

	fingerprint := id.Fingerprint(body)
	if err := t.failures.Add(fingerprint, 1, cache.DefaultExpiration); err == nil {
		return 1 < t.max
	}

	failures, err := t.failures.IncrementInt(fingerprint, 1)
	if err != nil {
		// Expired between the two calls
		t.failures.SetDefault(fingerprint, 1)
		failures = 1
	}

	if failures >= t.max {
		t.failures.Delete(fingerprint)
		return false
	}

	return true
}

func (t *redeliveryTracker) forget(body []byte) {
	if t.max > 0 {
		t.failures.Delete(id.Fingerprint(body))
	}
}
