// Package security raises alerts when failed or throttled security events
// from one client address pile up within a window.
package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// AlertResult contains alert evaluation output.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

type rule struct {
	threshold int64
	window    time.Duration
}

// AuditAlerter counts security events per (event, outcome, ip) in Redis.
type AuditAlerter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewAuditAlerter returns nil when client is nil; a nil alerter observes nothing.
func NewAuditAlerter(client *redis.Client, prefix string) *AuditAlerter {
	if client == nil {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "jifou:alerts"
	}
	return &AuditAlerter{client: client, prefix: prefix, now: time.Now}
}

// Observe records one event and reports whether its threshold is reached.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	if a == nil {
		return AlertResult{}, nil
	}
	r, ok := alertRule(event, outcome)
	if !ok {
		return AlertResult{}, nil
	}
	windowMs := r.window.Milliseconds()
	slot := a.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), slot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return AlertResult{}, err
	}
	return AlertResult{
		Triggered: count >= r.threshold,
		Count:     count,
		Threshold: r.threshold,
		Window:    r.window,
	}, nil
}

func alertRule(event, outcome string) (rule, bool) {
	switch strings.TrimSpace(outcome) {
	case "rate_limited":
		return rule{threshold: 20, window: time.Minute}, true
	case "fail":
	default:
		return rule{}, false
	}
	switch strings.TrimSpace(event) {
	case "auth.login":
		return rule{threshold: 10, window: 5 * time.Minute}, true
	case "auth.otp.send", "auth.logout":
		return rule{threshold: 15, window: 5 * time.Minute}, true
	case "auth.authorize":
		return rule{threshold: 25, window: 5 * time.Minute}, true
	default:
		return rule{}, false
	}
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return strings.NewReplacer(":", "_", "|", "_", " ", "_").Replace(in)
}
