package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/extendamix/api/internal/model"
)

// TrackStore is the system of record for the result of a job: the final
// status string, output path, duration and version count. In-flight progress
// never touches it.
type TrackStore interface {
	UpdateStatus(ctx context.Context, trackID string, update model.TrackUpdate) (version int64, err error)
	GetStatus(ctx context.Context, trackID string) (map[string]string, error)
}

// RedisTrackStore keeps one hash per track under track:<id>.
type RedisTrackStore struct {
	redis *redis.Client
}

func NewRedisTrackStore(redisClient *redis.Client) *RedisTrackStore {
	return &RedisTrackStore{redis: redisClient}
}

func trackKey(trackID string) string {
	return fmt.Sprintf("track:%s", trackID)
}

// UpdateStatus writes the update fields and returns the track's version
// counter, incremented first when the update asks for a bump.
func (s *RedisTrackStore) UpdateStatus(ctx context.Context, trackID string, update model.TrackUpdate) (int64, error) {
	key := trackKey(trackID)

	fields := map[string]interface{}{
		"status": update.Status,
	}
	if update.OutputPath != "" {
		fields["outputPath"] = update.OutputPath
	}
	if update.Duration > 0 {
		fields["duration"] = strconv.FormatFloat(update.Duration, 'f', 2, 64)
	}
	if update.Error != "" {
		fields["error"] = update.Error
	}

	var version int64
	if update.BumpVersion {
		v, err := s.redis.HIncrBy(ctx, key, "version", 1).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to bump track version: %w", err)
		}
		version = v
	}

	if err := s.redis.HSet(ctx, key, fields).Err(); err != nil {
		return 0, fmt.Errorf("failed to update track %s: %w", trackID, err)
	}

	return version, nil
}

// GetStatus returns the stored fields for a track.
func (s *RedisTrackStore) GetStatus(ctx context.Context, trackID string) (map[string]string, error) {
	fields, err := s.redis.HGetAll(ctx, trackKey(trackID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read track %s: %w", trackID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("track not found")
	}
	return fields, nil
}
