// Command atlassian-proxy exposes a small HTTP facade over the resilient
// Atlassian client: a JQL search passthrough plus health and metrics
// endpoints. One proxy instance per site keeps the local token bucket and
// the shared Redis backoff window meaningful.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/syncwell/atlassian-go/pkg/auth"
	"github.com/syncwell/atlassian-go/pkg/client"
	"github.com/syncwell/atlassian-go/pkg/jira"
	"github.com/syncwell/atlassian-go/pkg/logging"
	"github.com/syncwell/atlassian-go/pkg/ratelimit"
	"github.com/syncwell/atlassian-go/pkg/throttle"
)

func main() {
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(getEnv("LOG_LEVEL", "info"))
	logCfg.Pretty = getEnv("LOG_PRETTY", "") == "true"
	logging.Setup(logCfg)
	logger := logging.NewLogger("atlassian-proxy")

	baseURL := getEnv("ATLASSIAN_BASE_URL", "")
	if baseURL == "" {
		logger.Fatal().Msg("ATLASSIAN_BASE_URL is required")
	}

	provider, err := buildAuthProvider()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to configure authentication")
	}

	capacity := getEnvFloat("THROTTLE_CAPACITY", 10)
	refill := getEnvFloat("THROTTLE_REFILL_PER_SEC", 5)
	bucket, err := throttle.New(capacity, refill)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create token bucket")
	}

	cfg := client.DefaultConfig(baseURL, provider)
	cfg.Bucket = bucket
	cfg.UserAgent = getEnv("USER_AGENT", "atlassian-proxy/0.1.0")

	// Shared backoff coordination is optional; without Redis each proxy
	// instance backs off on its own.
	var redisClient *redis.Client
	if redisURL := getEnv("REDIS_URL", ""); redisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     redisURL,
			Password: getEnv("REDIS_PASSWORD", ""),
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", redisURL).Msg("Failed to connect to Redis")
		}
		cfg.Tracker = ratelimit.NewTracker(redisClient, logging.NewLogger("ratelimit"))
		logger.Info().Str("addr", redisURL).Msg("Shared backoff coordination enabled")
	}

	atlassianClient, err := client.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Atlassian client")
	}

	jiraService, err := jira.New(atlassianClient, jira.Config{
		PageSize:         getEnvInt("JIRA_PAGE_SIZE", 50),
		StoryPointsField: getEnv("JIRA_STORY_POINTS_FIELD", ""),
		SprintIDsField:   getEnv("JIRA_SPRINT_IDS_FIELD", ""),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Jira service")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/jira/search", searchHandler(jiraService))

	addr := ":" + getEnv("PORT", "8080")
	logger.Info().Str("addr", addr).Str("base_url", baseURL).Msg("Starting Atlassian proxy")

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

// buildAuthProvider picks the credential scheme from the environment: a
// bearer token when present, otherwise email + API token basic auth.
func buildAuthProvider() (auth.Provider, error) {
	if token := getEnv("ATLASSIAN_BEARER_TOKEN", ""); token != "" {
		return auth.NewTokenAuth(func() string { return token })
	}

	email := getEnv("ATLASSIAN_EMAIL", "")
	apiToken := getEnv("ATLASSIAN_API_TOKEN", "")
	if email == "" || apiToken == "" {
		return nil, fmt.Errorf("set ATLASSIAN_BEARER_TOKEN or both ATLASSIAN_EMAIL and ATLASSIAN_API_TOKEN")
	}
	return auth.NewBasicAuth(email, apiToken)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// readyHandler reports readiness; with Redis configured it also requires a
// reachable Redis.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				http.Error(w, fmt.Sprintf("redis unavailable: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

// searchHandler runs a JQL search and returns every page as one JSON array.
func searchHandler(jiraService *jira.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jql := r.URL.Query().Get("jql")
		if jql == "" {
			http.Error(w, "jql query parameter is required", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()

		issues, err := jiraService.SearchIssues(ctx, jql)
		if err != nil {
			http.Error(w, fmt.Sprintf("search failed: %v", err), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(issues); err != nil {
			logger := logging.NewLogger("atlassian-proxy")
			logger.Error().Err(err).Msg("Failed to write response")
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
