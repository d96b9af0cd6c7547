package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DevJWTSecret 只在 log.development 開啟且未設定 jwt.secret 時使用
const DevJWTSecret = "change-me"

var ErrInsecureJWTSecret = errors.New("jwt.secret must be set to a non-default value unless log.development is enabled")

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Relay     RelayConfig     `mapstructure:"relay"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	NodeID          string        `mapstructure:"node_id"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	PublicURL       string        `mapstructure:"public_url"` // 用於組出預設大頭貼網址
}

// DBConfig 資料庫設定，Driver 為 postgres 或 sqlite
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Port     int    `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`
	Path     string `mapstructure:"path"` // sqlite 檔案路徑
}

// MongoConfig URI 留空時訊息存放在關聯式資料庫
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// RedisConfig Addr 留空時只使用本機的在線名單
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Prefix    string        `mapstructure:"prefix"`
	OnlineTTL time.Duration `mapstructure:"online_ttl"` // 節點當機後最多這麼久從在線名單消失
}

// RelayConfig URL 留空時不做跨節點轉發
type RelayConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type WebSocketConfig struct {
	ReadLimit  int64         `mapstructure:"read_limit"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
}

type ChatConfig struct {
	MaxContentLength int           `mapstructure:"max_content_length"`
	TypingTTL        time.Duration `mapstructure:"typing_ttl"`
	BroadcastSeen    bool          `mapstructure:"broadcast_seen"`
	StoreTimeout     time.Duration `mapstructure:"store_timeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// NewFlagSet 建立命令列參數，--config 指定設定檔，--addr 覆寫監聽位址
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "path to the config file")
	fs.String("addr", "", "listen address, overrides server.address")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":3003")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.public_url", "http://localhost:3003")

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.path", "chat.db")

	// 沒有預設值的 key 也要登記，AutomaticEnv 才能在 Unmarshal 時覆寫
	v.SetDefault("server.node_id", "")
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "")

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "chat")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "chat:")
	v.SetDefault("redis.online_ttl", 90*time.Second)
	v.SetDefault("relay.url", "")
	v.SetDefault("relay.subject", "dm.fanout")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.ttl", 24*time.Hour)

	v.SetDefault("websocket.read_limit", 4096) // 下限，實際值至少容納 chat.max_content_length
	v.SetDefault("websocket.pong_wait", 60*time.Second)
	v.SetDefault("websocket.ping_period", 54*time.Second)
	v.SetDefault("websocket.write_wait", 10*time.Second)
	v.SetDefault("websocket.send_buffer", 256)

	v.SetDefault("chat.max_content_length", 2000)
	v.SetDefault("chat.typing_ttl", 5*time.Second)
	v.SetDefault("chat.broadcast_seen", false)
	v.SetDefault("chat.store_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load 依序讀取預設值、設定檔、DM_ 開頭的環境變數與命令列參數
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile := ""
	if fs != nil {
		configFile, _ = fs.GetString("config")
		if flag := fs.Lookup("addr"); flag != nil && flag.Changed {
			if err := v.BindPFlag("server.address", flag); err != nil {
				return nil, err
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./pkg/config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch {
	case c.JWT.Secret != "" && c.JWT.Secret != DevJWTSecret:
		return nil
	case c.Log.Development:
		c.JWT.Secret = DevJWTSecret
		return nil
	default:
		return ErrInsecureJWTSecret
	}
}
