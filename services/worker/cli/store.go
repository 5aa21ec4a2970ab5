package cli

import (
	"github.com/spf13/viper"

	redisstore "github.com/ramiqadoumi/go-task-lease/internal/redis"
)

// openStore connects the operator commands to the configured Redis.
func openStore() (redisstore.LeaseStore, func()) {
	client := redisstore.NewClient(viper.GetString("redis_addr"))
	return redisstore.NewLeaseStore(client), func() { _ = client.Close() }
}
