package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rc-assistant/backend/pkg/logger"
	"github.com/rc-assistant/backend/pkg/utils"
)

const (
	popularKey   = "questions:popular"
	questionsKey = "questions:text"
)

type Client struct {
	client *redis.Client
}

// PopularQuestion is one entry of the most-asked list.
type PopularQuestion struct {
	Question string `json:"question"`
	Count    int64  `json:"count"`
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// RecordQuestion bumps the counter of a question. Questions differing only in
// case or spacing share a counter; the first phrasing seen is kept for display.
func (c *Client) RecordQuestion(ctx context.Context, question string) error {
	normalized := utils.NormalizeQuestion(question)
	if normalized == "" {
		return nil
	}
	fingerprint := utils.QuestionFingerprint(question)

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZIncrBy(ctx, popularKey, 1, fingerprint)
		pipe.HSetNX(ctx, questionsKey, fingerprint, strings.TrimSpace(question))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record question: %w", err)
	}

	logger.Debug("Question recorded", zap.String("fingerprint", fingerprint))
	return nil
}

// PopularQuestions returns up to limit questions, most asked first.
func (c *Client) PopularQuestions(ctx context.Context, limit int) ([]PopularQuestion, error) {
	if limit <= 0 {
		limit = 10
	}

	ranked, err := c.client.ZRevRangeWithScores(ctx, popularKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read popular questions: %w", err)
	}
	if len(ranked) == 0 {
		return []PopularQuestion{}, nil
	}

	fingerprints := make([]string, len(ranked))
	for i, z := range ranked {
		fingerprints[i] = z.Member.(string)
	}

	texts, err := c.client.HMGet(ctx, questionsKey, fingerprints...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read question texts: %w", err)
	}

	questions := make([]PopularQuestion, 0, len(ranked))
	for i, z := range ranked {
		text, ok := texts[i].(string)
		if !ok {
			logger.Warn("Popular question without text", zap.String("fingerprint", fingerprints[i]))
			continue
		}
		questions = append(questions, PopularQuestion{Question: text, Count: int64(z.Score)})
	}

	return questions, nil
}

// Reset drops every counter.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.client.Del(ctx, popularKey, questionsKey).Err(); err != nil {
		return fmt.Errorf("failed to reset popular questions: %w", err)
	}

	logger.Info("Popular questions reset")
	return nil
}
