package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		DebugHost                 string
		ReadTimeout               time.Duration
		WriteTimeout              time.Duration
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string // postgres, sqlite3 or inmem
		Host          string
		Port          string
		Name          string // file path for sqlite3
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	ChatConfig struct {
		Broker           string // inmem, redis or nats
		RedisURL         string
		NATSURL          string
		ChannelPrefix    string
		MessageMaxLength int
		MembersOnly      bool
		StrictProfiles   bool
		SendBufferSize   int
		WriteTimeout     time.Duration
		RateLimit        float64 // messages per second, 0 disables
		RateBurst        int
	}

	Config struct {
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		WorkDir          string
		AppName          string
		SecretKey        string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		RollbarToken     string
		SendgridApiKey   string
		Server           ServerConfig
		Database         DatabaseConfig
		Chat             ChatConfig
	}
)

// Address returns the "host:port" of the database server.
func (c DatabaseConfig) Address() string {
	if c.Port == "" {
		return c.Host
	}
	return net.JoinHostPort(c.Host, c.Port)
}

func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "Elearn")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromName", "Elearn")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.readTimeout", 5*time.Second)
	v.SetDefault("server.writeTimeout", 5*time.Second)
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 4*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 7*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "elearn")
	v.SetDefault("database.user", "elearn")
	v.SetDefault("database.password", "elearn")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("chat.broker", "inmem")
	v.SetDefault("chat.redisURL", "redis://localhost:6379/0")
	v.SetDefault("chat.natsURL", "nats://localhost:4222")
	v.SetDefault("chat.channelPrefix", "elearn.")
	v.SetDefault("chat.messageMaxLength", 512)
	v.SetDefault("chat.membersOnly", false)
	v.SetDefault("chat.sendBufferSize", 64)
	v.SetDefault("chat.writeTimeout", 5*time.Second)
	v.SetDefault("chat.rateLimit", 0.0)
	v.SetDefault("chat.rateBurst", 5)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	workDir := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	debug := v.GetBool("debug")
	conf := &Config{
		Env:             env,
		Build:           v.GetString("build"),
		Debug:           debug,
		TestMode:        v.GetBool("testMode"),
		WorkDir:         workDir,
		AppName:         v.GetString("appName"),
		SecretKey:       v.GetString("secretKey"),
		FrontendBaseURL: v.GetString("frontendBaseURL"),
		DefaultFromEmail: mail.Address{
			Name:    v.GetString("defaultFromName"),
			Address: v.GetString("defaultFromEmail"),
		},
		RollbarToken:   v.GetString("rollbarToken"),
		SendgridApiKey: v.GetString("sendgridApiKey"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			DebugHost:                 v.GetString("server.debugHost"),
			ReadTimeout:               v.GetDuration("server.readTimeout"),
			WriteTimeout:              v.GetDuration("server.writeTimeout"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Chat: ChatConfig{
			Broker:           v.GetString("chat.broker"),
			RedisURL:         v.GetString("chat.redisURL"),
			NATSURL:          v.GetString("chat.natsURL"),
			ChannelPrefix:    v.GetString("chat.channelPrefix"),
			MessageMaxLength: v.GetInt("chat.messageMaxLength"),
			MembersOnly:      v.GetBool("chat.membersOnly"),
			StrictProfiles:   debug,
			SendBufferSize:   v.GetInt("chat.sendBufferSize"),
			WriteTimeout:     v.GetDuration("chat.writeTimeout"),
			RateLimit:        v.GetFloat64("chat.rateLimit"),
			RateBurst:        v.GetInt("chat.rateBurst"),
		},
	}
	if v.IsSet("chat.strictProfiles") {
		conf.Chat.StrictProfiles = v.GetBool("chat.strictProfiles")
	}
	return conf
}
