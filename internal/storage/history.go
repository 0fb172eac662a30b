package storage

import (
	"context"
	"log"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"companion-chat/server/internal/interfaces"
	"companion-chat/server/internal/models"
)

// Sorted-set members are unique, so every member carries a nonce after this separator.
// Two appends of the same text at the same millisecond are then both kept.
const memberSeparator = "\x00"

// DefaultHistoryWindow is the number of entries ReadRecent returns when max is not positive
const DefaultHistoryWindow = 100

// Append adds text to the key's history scored with the current time in milliseconds
func (s *RedisStore) Append(ctx context.Context, key models.ConversationKey, text string) (float64, interfaces.HistoryStatus) {
	if err := key.Validate(); err != nil {
		log.Printf("[RedisStore] Append skipped: %v", err)
		return 0, interfaces.HistoryKeyError
	}

	score := float64(s.now().UnixMilli())
	err := s.client.ZAdd(ctx, key.HistoryKey(), &redis.Z{
		Score:  score,
		Member: encodeMember(text),
	}).Err()
	if err != nil {
		log.Printf("[RedisStore] Failed to append history for %s: %v", key.HistoryKey(), err)
		return 0, interfaces.HistoryBackendError
	}

	return score, interfaces.HistoryOK
}

// ReadRecent returns the newest max entries scored up to now, oldest first
func (s *RedisStore) ReadRecent(ctx context.Context, key models.ConversationKey, max int) ([]string, interfaces.HistoryStatus) {
	if err := key.Validate(); err != nil {
		log.Printf("[RedisStore] ReadRecent skipped: %v", err)
		return nil, interfaces.HistoryKeyError
	}
	if max <= 0 {
		max = DefaultHistoryWindow
	}

	members, err := s.client.ZRangeByScore(ctx, key.HistoryKey(), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(s.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		log.Printf("[RedisStore] Failed to read history for %s: %v", key.HistoryKey(), err)
		return nil, interfaces.HistoryBackendError
	}
	if len(members) == 0 {
		return nil, interfaces.HistoryEmpty
	}

	if len(members) > max {
		members = members[len(members)-max:]
	}

	out := make([]string, len(members))
	for i, member := range members {
		out[i] = decodeMember(member)
	}
	return out, interfaces.HistoryOK
}

// SeedIfEmpty writes the seed lines with scores 0..n-1 unless the key already exists
func (s *RedisStore) SeedIfEmpty(ctx context.Context, key models.ConversationKey, content, delimiter string) (bool, interfaces.HistoryStatus) {
	if err := key.Validate(); err != nil {
		log.Printf("[RedisStore] SeedIfEmpty skipped: %v", err)
		return false, interfaces.HistoryKeyError
	}

	historyKey := key.HistoryKey()
	exists, err := s.client.Exists(ctx, historyKey).Result()
	if err != nil {
		log.Printf("[RedisStore] Failed to check history for %s: %v", historyKey, err)
		return false, interfaces.HistoryBackendError
	}
	if exists > 0 {
		return false, interfaces.HistoryOK
	}

	lines := SplitSeed(content, delimiter)
	if len(lines) == 0 {
		return false, interfaces.HistoryOK
	}

	members := make([]*redis.Z, len(lines))
	for i, line := range lines {
		members[i] = &redis.Z{Score: float64(i), Member: encodeMember(line)}
	}
	if err := s.client.ZAdd(ctx, historyKey, members...).Err(); err != nil {
		log.Printf("[RedisStore] Failed to seed history for %s: %v", historyKey, err)
		return false, interfaces.HistoryBackendError
	}

	return true, interfaces.HistoryOK
}

// SplitSeed splits seed content on delimiter, dropping blank lines
func SplitSeed(content, delimiter string) []string {
	if delimiter == "" {
		delimiter = "\n"
	}
	parts := strings.Split(content, delimiter)
	lines := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		lines = append(lines, part)
	}
	return lines
}

func encodeMember(text string) string {
	return text + memberSeparator + uuid.NewString()
}

func decodeMember(member string) string {
	if i := strings.LastIndex(member, memberSeparator); i >= 0 {
		return member[:i]
	}
	return member
}
