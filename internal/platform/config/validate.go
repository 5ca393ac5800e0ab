package config

import (
	"fmt"
	"slices"
	"strings"

	strutil "logbook/pkg/platform/strings"
)

// Validate normalizes list settings and checks the loaded configuration.
// Load calls it automatically.
func (c *Config) Validate() error {
	c.Kafka.Brokers = strutil.DedupeAndTrim(c.Kafka.Brokers)
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535 (got %d)", c.Server.Port)
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) exceeds max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Kafka.Enabled() && strings.TrimSpace(c.Kafka.ResyncTopic) == "" {
		return fmt.Errorf("kafka.resync_topic is required when brokers are set")
	}
	if err := c.Logbook.validate(); err != nil {
		return fmt.Errorf("logbook: %w", err)
	}
	return nil
}

func (l *LogbookConfig) validate() error {
	if l.MaxResults <= 0 {
		return fmt.Errorf("max_results must be > 0 (got %d)", l.MaxResults)
	}
	if l.TxTimeout <= 0 {
		return fmt.Errorf("tx_timeout must be > 0 (got %s)", l.TxTimeout)
	}
	if l.BreakerFailures <= 0 || l.BreakerSuccesses <= 0 {
		return fmt.Errorf("breaker thresholds must be > 0")
	}
	for _, t := range l.Tenants {
		if t < 0 {
			return fmt.Errorf("tenant %d is negative", t)
		}
	}
	slices.Sort(l.Tenants)
	l.Tenants = slices.Compact(l.Tenants)
	return nil
}
