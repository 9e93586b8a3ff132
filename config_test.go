package quilt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiltdb/quilt/logger"
	"github.com/quiltdb/quilt/schema"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, parseLogLevel("silent"))
	assert.Equal(t, logger.Error, parseLogLevel("error"))
	assert.Equal(t, logger.Warn, parseLogLevel("warn"))
	assert.Equal(t, logger.Info, parseLogLevel("info"))
	assert.Equal(t, logger.Warn, parseLogLevel(""))
	assert.Equal(t, logger.Warn, parseLogLevel("bogus"))
}

func TestApplyDefaultsRequiresStore(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.applyDefaults())
}

func TestApplyDefaultsFillsGaps(t *testing.T) {
	cfg := &Config{Store: stubStore{}}
	require.NoError(t, cfg.applyDefaults())
	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.NamingStrategy)
	assert.NotNil(t, cfg.NowFunc)
}

func TestApplyDefaultsEnvOverrides(t *testing.T) {
	t.Setenv("QUILT_TABLE_PREFIX", "app_")
	t.Setenv("QUILT_SINGULAR_TABLE", "true")

	cfg := &Config{Store: stubStore{}}
	require.NoError(t, cfg.applyDefaults())

	ns, ok := cfg.NamingStrategy.(schema.NamingStrategy)
	require.True(t, ok)
	assert.Equal(t, "app_", ns.TablePrefix)
	assert.Equal(t, "app_user", ns.TableName("User"))
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	t.Setenv("QUILT_TABLE_PREFIX", "app_")

	ns := schema.NamingStrategy{TablePrefix: "mine_"}
	cfg := &Config{Store: stubStore{}, NamingStrategy: ns, Logger: logger.Discard}
	require.NoError(t, cfg.applyDefaults())
	assert.Equal(t, ns, cfg.NamingStrategy)
	assert.Equal(t, logger.Discard, cfg.Logger)
}

// stubStore satisfies Store without any backing data.
type stubStore struct{}

func (stubStore) Collection(string) Collection { return nil }
