package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradecapture/ingress/internal/config"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func baseEnv() map[string]string {
	return map[string]string{
		"KAFKA_BROKERS": "broker1:9092,broker2:9092",
		"POSTGRES_DSN":  "postgres://localhost/ingress",
		"DEST_TOPIC":    "trade-events.outbound",
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := config.FromEnv(env(baseEnv()))
	require.NoError(t, err)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 16, cfg.BatchMin)
	assert.Equal(t, 2048, cfg.BatchMax)
}

func TestFromEnv_Overrides(t *testing.T) {
	values := baseEnv()
	values["BATCH_MIN"] = "4"
	values["BATCH_MAX"] = "32"
	cfg, err := config.FromEnv(env(values))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.BatchMin)
	assert.Equal(t, 32, cfg.BatchMax)
}

func TestFromEnv_MissingBrokersIsFatal(t *testing.T) {
	values := baseEnv()
	delete(values, "KAFKA_BROKERS")
	_, err := config.FromEnv(env(values))
	require.Error(t, err)
	var fatal *config.FatalStartupError
	assert.ErrorAs(t, err, &fatal)
}

func TestFromEnv_InvalidBatchMinIsFatal(t *testing.T) {
	values := baseEnv()
	values["BATCH_MIN"] = "not-a-number"
	_, err := config.FromEnv(env(values))
	require.Error(t, err)
	var fatal *config.FatalStartupError
	assert.ErrorAs(t, err, &fatal)
}

func TestValidate_BatchMaxBelowMin(t *testing.T) {
	cfg := config.Default()
	cfg.KafkaBrokers = []string{"broker:9092"}
	cfg.PostgresDSN = "postgres://localhost/ingress"
	cfg.BatchMin = 100
	cfg.BatchMax = 10
	assert.Error(t, cfg.Validate())
}

func TestValidate_MaxBackoffBelowBase(t *testing.T) {
	cfg := config.Default()
	cfg.KafkaBrokers = []string{"broker:9092"}
	cfg.PostgresDSN = "postgres://localhost/ingress"
	cfg.MaxBackoff = cfg.SystemFailureBackoff - 1
	assert.Error(t, cfg.Validate())
}
