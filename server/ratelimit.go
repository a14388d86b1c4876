// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"axonflow/coordinator/shared/logger"
)

// RateLimiter enforces a sliding-window per-client request limit.
// With a Redis backend the window is shared across coordinator
// instances; without one it degrades to a process-local window. Redis
// errors fail open: a broken limiter must not take down routing.
type RateLimiter struct {
	limitPerMinute int
	client         *redis.Client
	log            *logger.Logger

	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewRateLimiter creates a limiter. An empty redisURL selects the
// in-memory window; a limit of zero disables limiting entirely.
func NewRateLimiter(redisURL string, limitPerMinute int) (*RateLimiter, error) {
	rl := &RateLimiter{
		limitPerMinute: limitPerMinute,
		log:            logger.New("ratelimit"),
		windows:        make(map[string][]time.Time),
	}

	if redisURL == "" || limitPerMinute <= 0 {
		return rl, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	rl.client = client
	rl.log.Info("", "Redis rate limiting enabled", map[string]interface{}{
		"limit_per_minute": limitPerMinute,
	})
	return rl, nil
}

// Enabled reports whether the limiter enforces a limit at all.
func (rl *RateLimiter) Enabled() bool {
	return rl.limitPerMinute > 0
}

// Allow reports whether the client identified by key may proceed.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.limitPerMinute <= 0 {
		return true
	}
	if rl.client == nil {
		return rl.allowLocal(key)
	}
	return rl.allowRedis(ctx, key)
}

// allowRedis implements the sliding window over a Redis sorted set.
func (rl *RateLimiter) allowRedis(ctx context.Context, key string) bool {
	now := time.Now()
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	pipe := rl.client.Pipeline()

	// Drop timestamps older than one minute (sliding window)
	minScore := now.Add(-time.Minute).UnixNano()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", minScore))
	pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, redisKey, 2*time.Minute)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		// Fail open on Redis errors
		rl.log.Warn("", "Redis rate limit check failed, failing open", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return true
	}

	count := cmds[1].(*redis.IntCmd).Val()
	return count < int64(rl.limitPerMinute)
}

// allowLocal implements the same window for a single process.
func (rl *RateLimiter) allowLocal(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)

	window := rl.windows[key]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= rl.limitPerMinute {
		rl.windows[key] = kept
		return false
	}

	rl.windows[key] = append(kept, now)
	return true
}

// Close releases the Redis connection if one is held.
func (rl *RateLimiter) Close() error {
	if rl.client != nil {
		return rl.client.Close()
	}
	return nil
}
