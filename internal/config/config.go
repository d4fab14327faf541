package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/guildpulse/guildsync/internal/domain"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Guild update service
	UpdaterBaseURL string
	// UpdaterTimeout bounds one fetch attempt; an expiry is classified as a
	// network error.
	UpdaterTimeout time.Duration
	UpdaterRPS     float64

	// Rate budget: points per rolling window against the upstream API.
	PointsMax   int
	RateWindow  time.Duration
	RateLimits  domain.RateLimitConfig
	JobCosts    map[domain.JobType]int
	MaxAttempts int
	// RetryBackoff: index 0 = first retry delay, etc.
	RetryBackoff []time.Duration

	// Processor
	ProcessorIdleWait time.Duration

	// Scheduler
	SchedulerTick  time.Duration
	Timezone       string
	HotHoursStart  int
	HotHoursEnd    int
	RaidingPollHot time.Duration
	RaidingPollOff time.Duration
	ActivePollHot  time.Duration
	ActivePollOff  time.Duration

	// Daily maintenance pass cron specs, in dependency order: ranks before
	// tier lists, analytics last.
	InactivePollSpec      string
	WorldRanksSpec        string
	CrestsSpec            string
	ReportVerifySpec      string
	CharacterRankingsSpec string
	TierListsSpec         string
	RaidAnalyticsSpec     string
	ReportVerifyWindow    time.Duration

	// Metrics
	GaugePollInterval time.Duration
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		UpdaterBaseURL: getEnv("UPDATER_BASE_URL", "http://localhost:9090"),
		UpdaterTimeout: getDuration("UPDATER_TIMEOUT", 10*time.Minute),
		UpdaterRPS:     getFloat("UPDATER_RPS", 2),

		PointsMax:  getInt("RATE_POINTS_MAX", 18000),
		RateWindow: getDuration("RATE_WINDOW", time.Hour),
		RateLimits: domain.RateLimitConfig{
			LiveOperationsReserve: getFloat("RATE_LIVE_RESERVE", 20),
			WarningThreshold:      getFloat("RATE_WARNING_THRESHOLD", 60),
			PauseThreshold:        getFloat("RATE_PAUSE_THRESHOLD", 80),
		},
		JobCosts: map[domain.JobType]int{
			domain.JobFullRescan:       getInt("COST_FULL_RESCAN", 12),
			domain.JobRescanDeaths:     getInt("COST_RESCAN_DEATHS", 6),
			domain.JobRescanCharacters: getInt("COST_RESCAN_CHARACTERS", 4),
		},
		MaxAttempts: getInt("MAX_ATTEMPTS", 3),
		RetryBackoff: []time.Duration{
			getDuration("RETRY_BACKOFF_1", 30*time.Second),
			getDuration("RETRY_BACKOFF_2", 2*time.Minute),
			getDuration("RETRY_BACKOFF_3", 10*time.Minute),
		},

		ProcessorIdleWait: getDuration("PROCESSOR_IDLE_WAIT", 5*time.Second),

		SchedulerTick:  getDuration("SCHEDULER_TICK", 30*time.Second),
		Timezone:       getEnv("SCHEDULE_TZ", "Europe/Helsinki"),
		HotHoursStart:  getInt("HOT_HOURS_START", 18),
		HotHoursEnd:    getInt("HOT_HOURS_END", 23),
		RaidingPollHot: getDuration("RAIDING_POLL_HOT", 10*time.Minute),
		RaidingPollOff: getDuration("RAIDING_POLL_OFF", time.Hour),
		ActivePollHot:  getDuration("ACTIVE_POLL_HOT", 30*time.Minute),
		ActivePollOff:  getDuration("ACTIVE_POLL_OFF", 3*time.Hour),

		InactivePollSpec:      getEnv("INACTIVE_POLL_SPEC", "0 5 * * *"),
		WorldRanksSpec:        getEnv("WORLD_RANKS_SPEC", "0 6 * * *"),
		CrestsSpec:            getEnv("CRESTS_SPEC", "30 6 * * *"),
		ReportVerifySpec:      getEnv("REPORT_VERIFY_SPEC", "0 7 * * *"),
		CharacterRankingsSpec: getEnv("CHARACTER_RANKINGS_SPEC", "0 8 * * *"),
		TierListsSpec:         getEnv("TIER_LISTS_SPEC", "0 9 * * *"),
		RaidAnalyticsSpec:     getEnv("RAID_ANALYTICS_SPEC", "30 9 * * *"),
		ReportVerifyWindow:    getDuration("REPORT_VERIFY_WINDOW", 72*time.Hour),

		GaugePollInterval: getDuration("GAUGE_POLL_INTERVAL", 15*time.Second),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
