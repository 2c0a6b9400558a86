package queue

import (
	"github.com/rs/zerolog/log"
	"stride-etl/internal/config"
)

// NewFromConfig returns a redis client when the queue is enabled, or a NopClient otherwise
func NewFromConfig(conf *config.Config) (Client, error) {
	if !conf.Queue.Enabled {
		log.Debug().Msg("Queue disabled, run reports will not be published")
		return NopClient{}, nil
	}
	return NewRedisClient(conf.Queue.Host, conf.Queue.Password, conf.Queue.DB, conf.Queue.MaxReports)
}
