package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"yqhp/planfleet/internal/plan"
	"yqhp/planfleet/pkg/logger"
)

// Source loads the plan a coordinator publishes.
type Source interface {
	Load(ctx context.Context) (plan.Plan, error)
	String() string
}

// FileSource reads a plan from a JSON file on disk.
type FileSource struct {
	Path string
}

// NewFileSource returns a source for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Load reads and decodes the file.
func (s *FileSource) Load(ctx context.Context) (plan.Plan, error) {
	if err := ctx.Err(); err != nil {
		return plan.Plan{}, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("read plan file: %w", err)
	}
	return plan.Deserialize(data)
}

func (s *FileSource) String() string { return "file:" + s.Path }

// RedisSource reads a plan stored as a JSON string under one key.
type RedisSource struct {
	client redis.UniversalClient
	key    string
}

// NewRedisSource returns a source reading key through client.
func NewRedisSource(client redis.UniversalClient, key string) *RedisSource {
	return &RedisSource{client: client, key: key}
}

// Load fetches and decodes the key. A missing key is an error.
func (s *RedisSource) Load(ctx context.Context) (plan.Plan, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return plan.Plan{}, fmt.Errorf("redis key %q not found", s.key)
	}
	if err != nil {
		return plan.Plan{}, fmt.Errorf("redis get %q: %w", s.key, err)
	}
	return plan.Deserialize(data)
}

func (s *RedisSource) String() string { return "redis:" + s.key }

// LoadPlan loads from src and falls back to the built-in default plan on
// any failure. The coordinator always has a plan to serve.
func LoadPlan(ctx context.Context, src Source, log logger.Logger) plan.Plan {
	if log == nil {
		log = logger.Nop()
	}
	p, err := src.Load(ctx)
	if err != nil {
		log.Warn("plan source unavailable, serving default plan",
			zap.String("source", src.String()),
			zap.Error(err),
		)
		return plan.Default()
	}
	log.Info("plan loaded", zap.String("source", src.String()), zap.Int("tasks", p.Len()))
	return p
}
