package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/timeleak/timeleakd/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the TimeLeak configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	_, err := config.Load(configPath)
	if err != nil {
		red := color.New(color.FgRed, color.Bold)
		red.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		return err
	}

	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not check for unknown keys: %v\n", err)
	}

	green := color.New(color.FgGreen)
	green.Fprintf(os.Stdout, "Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		yellow := color.New(color.FgYellow, color.Bold)
		yellow.Fprintf(os.Stdout, "Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			yellow.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "These keys will be ignored and may indicate typos or deprecated settings.")
	}

	return nil
}

// findUnknownKeys reports config file keys that no known setting uses.
func findUnknownKeys(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	valid := validKeys()
	var unknown []string
	for _, key := range v.AllKeys() {
		if !valid[strings.ToLower(key)] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}

func validKeys() map[string]bool {
	keys := []string{
		"server.api_port",
		"server.metrics_port",
		"server.bind_address",
		"server.rate_limit_per_sec",
		"server.rate_limit_burst",
		"server.report_cache_ttl",
		"storage.type",
		"storage.path",
		"storage.redis.host",
		"storage.redis.port",
		"storage.redis.password",
		"storage.redis.db",
		"storage.redis.pool_size",
		"storage.redis.min_idle_conns",
		"storage.redis.dial_timeout",
		"storage.redis.read_timeout",
		"storage.redis.write_timeout",
		"sync.target_time",
		"sync.timezone",
		"sync.noise_floor",
		"sync.backoff_base",
		"sync.max_retries",
		"sync.retention_days",
		"upload.base_url",
		"upload.timeout",
		"upload.auth_token",
		"goal.default",
		"goal.baseline_ratio",
		"reconcile.launch_debounce",
		"reconcile.max_session",
		"reconcile.max_daily_total",
		"classify.social_media",
		"classify.entertainment",
		"logging.level",
		"logging.format",
	}

	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}
