package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const (
	instancesKey         = "songiq:instances"
	staleHeartbeatFactor = 3
	unregisterTimeout    = 2 * time.Second
)

// LocalStats is what an instance reports about itself on each heartbeat.
type LocalStats struct {
	Connections int
	Topics      int
}

// StatsFunc reads the local instance's current counts.
type StatsFunc func(ctx context.Context) (LocalStats, error)

// InstanceInfo is one instance's heartbeat record.
type InstanceInfo struct {
	InstanceID  string `json:"instanceId"`
	Version     string `json:"version"`
	Connections int    `json:"connections"`
	Topics      int    `json:"topics"`
	Timestamp   int64  `json:"timestamp"`
}

// InstanceRegistry keeps this instance's heartbeat in a shared Redis hash so any
// instance can report on the whole relay group. Records older than three heartbeats
// are treated as gone.
type InstanceRegistry struct {
	rdb        *goredis.Client
	clock      clockwork.Clock
	instanceID string
	version    string
	heartbeat  time.Duration
	stats      StatsFunc
}

func NewInstanceRegistry(client *Client, clock clockwork.Clock, instanceID, version string, heartbeat time.Duration, stats StatsFunc) *InstanceRegistry {
	return &InstanceRegistry{
		rdb:        client.rdb,
		clock:      clock,
		instanceID: instanceID,
		version:    version,
		heartbeat:  heartbeat,
		stats:      stats,
	}
}

// Start registers immediately and then on every heartbeat. It blocks until ctx is
// cancelled, then removes the registration.
func (r *InstanceRegistry) Start(ctx context.Context) {
	r.register(ctx)

	ticker := r.clock.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			r.register(ctx)
		case <-ctx.Done():
			r.unregister()
			return
		}
	}
}

func (r *InstanceRegistry) register(ctx context.Context) {
	info := InstanceInfo{
		InstanceID: r.instanceID,
		Version:    r.version,
		Timestamp:  r.clock.Now().Unix(),
	}
	if r.stats != nil {
		local, err := r.stats(ctx)
		if err != nil {
			slog.Warn("Failed to read local stats for heartbeat", "error", err)
		}
		info.Connections = local.Connections
		info.Topics = local.Topics
	}

	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := r.rdb.HSet(ctx, instancesKey, r.instanceID, data).Err(); err != nil {
		slog.Warn("Instance heartbeat failed", "instance_id", r.instanceID, "error", err)
	}
}

func (r *InstanceRegistry) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
	defer cancel()
	if err := r.rdb.HDel(ctx, instancesKey, r.instanceID).Err(); err != nil {
		slog.Warn("Failed to unregister instance", "instance_id", r.instanceID, "error", err)
	}
}

// ActiveInstances returns every instance with a recent heartbeat, ordered by ID.
// Stale and unreadable records are deleted so instances that died without
// unregistering do not accumulate in the hash.
func (r *InstanceRegistry) ActiveInstances(ctx context.Context) ([]InstanceInfo, error) {
	records, err := r.rdb.HGetAll(ctx, instancesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read instances: %w", err)
	}

	cutoff := r.clock.Now().Add(-staleHeartbeatFactor * r.heartbeat).Unix()
	active := make([]InstanceInfo, 0, len(records))
	var stale []string
	for field, data := range records {
		var info InstanceInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil || info.Timestamp < cutoff {
			stale = append(stale, field)
			continue
		}
		active = append(active, info)
	}

	if len(stale) > 0 {
		if err := r.rdb.HDel(ctx, instancesKey, stale...).Err(); err != nil {
			slog.Warn("Failed to prune stale instances", "count", len(stale), "error", err)
		}
	}

	sort.Slice(active, func(i, j int) bool { return active[i].InstanceID < active[j].InstanceID })
	return active, nil
}
