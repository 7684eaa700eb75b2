package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Sternrassler/force-client/pkg/client"
	"github.com/Sternrassler/force-client/pkg/logging"
)

const (
	listenKey       = "listen"
	loginURLKey     = "login-url"
	instanceURLKey  = "instance-url"
	versionKey      = "api-version"
	apiTypeKey      = "api-type"
	accessTokenKey  = "access-token"
	refreshTokenKey = "refresh-token"
	clientIDKey     = "client-id"
	clientSecretKey = "client-secret"
	usernameKey     = "username"
	passwordKey     = "password"
	maxRequestKey   = "max-request"
	maxInFlightKey  = "max-in-flight"
	redisAddrKey    = "redis-addr"
	describeTTLKey  = "describe-ttl"
	usageNSKey      = "usage-namespace"
	logLevelKey     = "log-level"
	logPrettyKey    = "log-pretty"
)

type proxyConfig struct {
	Listen    string
	RedisAddr string
	Username  string
	Password  string
	Log       logging.Config
	Client    client.Config
}

func registerFlags(cmd *cobra.Command, v *viper.Viper) {
	def := client.DefaultConfig()
	flags := cmd.Flags()

	flags.String(listenKey, ":8080", "address to listen on")
	flags.String(loginURLKey, def.LoginURL, "login and token endpoint host")
	flags.String(instanceURLKey, "", "instance url of an existing session")
	flags.String(versionKey, def.Version, "API version")
	flags.String(apiTypeKey, def.APIType, "SOAP API type (partner or enterprise)")
	flags.String(accessTokenKey, "", "access token of an existing session")
	flags.String(refreshTokenKey, "", "refresh token used to recover expired sessions")
	flags.String(clientIDKey, "", "OAuth2 client id")
	flags.String(clientSecretKey, "", "OAuth2 client secret")
	flags.String(usernameKey, "", "username to log in with at startup")
	flags.String(passwordKey, "", "password (with security token) to log in with at startup")
	flags.Int(maxRequestKey, def.MaxRequest, "largest accepted batch")
	flags.Int(maxInFlightKey, 0, "simultaneous requests per batch (0 = max-request)")
	flags.String(redisAddrKey, "", "Redis address for the shared describe cache and API usage (optional)")
	flags.Duration(describeTTLKey, def.DescribeTTL, "describe cache TTL when the server sends no Expires header")
	flags.String(usageNSKey, "", "namespace for shared API usage state")
	flags.String(logLevelKey, string(logging.LevelInfo), "log level (debug, info, warn, error)")
	flags.Bool(logPrettyKey, false, "human-readable console logs")

	mustBindFlag(v, listenKey, "FORCE_LISTEN", flags.Lookup(listenKey))
	mustBindFlag(v, loginURLKey, "FORCE_LOGIN_URL", flags.Lookup(loginURLKey))
	mustBindFlag(v, instanceURLKey, "FORCE_INSTANCE_URL", flags.Lookup(instanceURLKey))
	mustBindFlag(v, versionKey, "FORCE_API_VERSION", flags.Lookup(versionKey))
	mustBindFlag(v, apiTypeKey, "FORCE_API_TYPE", flags.Lookup(apiTypeKey))
	mustBindFlag(v, accessTokenKey, "FORCE_ACCESS_TOKEN", flags.Lookup(accessTokenKey))
	mustBindFlag(v, refreshTokenKey, "FORCE_REFRESH_TOKEN", flags.Lookup(refreshTokenKey))
	mustBindFlag(v, clientIDKey, "FORCE_CLIENT_ID", flags.Lookup(clientIDKey))
	mustBindFlag(v, clientSecretKey, "FORCE_CLIENT_SECRET", flags.Lookup(clientSecretKey))
	mustBindFlag(v, usernameKey, "FORCE_USERNAME", flags.Lookup(usernameKey))
	mustBindFlag(v, passwordKey, "FORCE_PASSWORD", flags.Lookup(passwordKey))
	mustBindFlag(v, maxRequestKey, "FORCE_MAX_REQUEST", flags.Lookup(maxRequestKey))
	mustBindFlag(v, maxInFlightKey, "FORCE_MAX_IN_FLIGHT", flags.Lookup(maxInFlightKey))
	mustBindFlag(v, redisAddrKey, "FORCE_REDIS_ADDR", flags.Lookup(redisAddrKey))
	mustBindFlag(v, describeTTLKey, "FORCE_DESCRIBE_TTL", flags.Lookup(describeTTLKey))
	mustBindFlag(v, usageNSKey, "FORCE_USAGE_NAMESPACE", flags.Lookup(usageNSKey))
	mustBindFlag(v, logLevelKey, "FORCE_LOG_LEVEL", flags.Lookup(logLevelKey))
	mustBindFlag(v, logPrettyKey, "FORCE_LOG_PRETTY", flags.Lookup(logPrettyKey))
}

func mustBindFlag(v *viper.Viper, key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := v.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

func loadConfig(v *viper.Viper) (proxyConfig, error) {
	cfg := proxyConfig{
		Listen:    strings.TrimSpace(v.GetString(listenKey)),
		RedisAddr: strings.TrimSpace(v.GetString(redisAddrKey)),
		Username:  strings.TrimSpace(v.GetString(usernameKey)),
		Password:  v.GetString(passwordKey),
		Log:       logging.DefaultConfig(),
		Client:    client.DefaultConfig(),
	}
	cfg.Log.Pretty = v.GetBool(logPrettyKey)
	cfg.Log.Service = "force-proxy"

	c := &cfg.Client
	c.LoginURL = strings.TrimSpace(v.GetString(loginURLKey))
	c.InstanceURL = strings.TrimSpace(v.GetString(instanceURLKey))
	c.Version = strings.TrimPrefix(strings.TrimSpace(v.GetString(versionKey)), "v")
	c.APIType = strings.TrimSpace(v.GetString(apiTypeKey))
	c.AccessToken = strings.TrimSpace(v.GetString(accessTokenKey))
	c.RefreshToken = strings.TrimSpace(v.GetString(refreshTokenKey))
	c.ClientID = strings.TrimSpace(v.GetString(clientIDKey))
	c.ClientSecret = v.GetString(clientSecretKey)
	c.MaxRequest = v.GetInt(maxRequestKey)
	c.MaxInFlight = v.GetInt(maxInFlightKey)
	c.DescribeTTL = v.GetDuration(describeTTLKey)
	c.UsageNamespace = strings.TrimSpace(v.GetString(usageNSKey))

	level, err := logging.ParseLevel(v.GetString(logLevelKey))
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", logLevelKey, err)
	}
	cfg.Log.Level = level

	if cfg.Listen == "" {
		return cfg, fmt.Errorf("%s is required", listenKey)
	}
	if cfg.Username != "" && cfg.Password == "" {
		return cfg, fmt.Errorf("%s requires %s", usernameKey, passwordKey)
	}
	if cfg.Username == "" && c.AccessToken == "" {
		return cfg, fmt.Errorf("either %s or %s is required", usernameKey, accessTokenKey)
	}
	if c.AccessToken != "" && c.InstanceURL == "" {
		return cfg, fmt.Errorf("%s requires %s", accessTokenKey, instanceURLKey)
	}
	if c.DescribeTTL < time.Second {
		return cfg, fmt.Errorf("%s must be at least 1s (got %s)", describeTTLKey, c.DescribeTTL)
	}
	return cfg, nil
}
