package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rutin-db/rutin/lib/utils"
)

// DefaultConfPath is the config file searched in the working directory
const DefaultConfPath = "rutin.toml"

// ACLRule describes what a connection is allowed to do. The zero value
// denies nothing.
type ACLRule struct {
	Enable                 bool     `mapstructure:"enable"`
	Password               string   `mapstructure:"password"`
	AllowCommands          []string `mapstructure:"allow_commands"`
	DenyCommands           []string `mapstructure:"deny_commands"`
	AllowCategory          []string `mapstructure:"allow_category"`
	DenyCategory           []string `mapstructure:"deny_category"`
	AllowReadKeyPatterns   []string `mapstructure:"allow_read_key_patterns"`
	DenyReadKeyPatterns    []string `mapstructure:"deny_read_key_patterns"`
	AllowWriteKeyPatterns  []string `mapstructure:"allow_write_key_patterns"`
	DenyWriteKeyPatterns   []string `mapstructure:"deny_write_key_patterns"`
	AllowChannelPatterns   []string `mapstructure:"allow_channel_patterns"`
	DenyChannelPatterns    []string `mapstructure:"deny_channel_patterns"`
}

// ServerProperties defines global config properties
type ServerProperties struct {
	Server struct {
		Host                    string `mapstructure:"host"`
		Port                    int    `mapstructure:"port"`
		ExpireCheckIntervalSecs int    `mapstructure:"expire_check_interval_secs"`
		LogLevel                string `mapstructure:"log_level"`
		LogDir                  string `mapstructure:"log_dir"`
		MaxConnections          int    `mapstructure:"max_connections"`
		MaxBatch                int    `mapstructure:"max_batch"`
		RunID                   string `mapstructure:"run_id"`
		Databases               int    `mapstructure:"databases"`
		UseEventLoop            bool   `mapstructure:"use_event_loop"`
	} `mapstructure:"server"`

	Security struct {
		RequirePass string             `mapstructure:"requirepass"`
		DefaultAC   ACLRule            `mapstructure:"default_ac"`
		ACL         map[string]ACLRule `mapstructure:"acl"`
	} `mapstructure:"security"`

	Replica struct {
		ReadOnly   bool   `mapstructure:"read_only"`
		MaxReplica int    `mapstructure:"max_replica"`
		ReplicaOf  string `mapstructure:"replicaof"`
	} `mapstructure:"replica"`

	Memory struct {
		ExpirationEvict struct {
			SamplesCount int `mapstructure:"samples_count"`
		} `mapstructure:"expiration_evict"`
		OOM struct {
			Maxmemory             int64  `mapstructure:"maxmemory"`
			MaxmemoryPolicy       string `mapstructure:"maxmemory_policy"`
			MaxmemorySamplesCount int    `mapstructure:"maxmemory_samples_count"`
		} `mapstructure:"oom"`
	} `mapstructure:"memory"`

	RDB struct {
		FilePath       string `mapstructure:"file_path"`
		Save           string `mapstructure:"save"`
		Version        int    `mapstructure:"version"`
		EnableChecksum bool   `mapstructure:"enable_checksum"`
	} `mapstructure:"rdb"`

	AOF struct {
		Enable                bool   `mapstructure:"enable"`
		UseRdbPreamble        bool   `mapstructure:"use_rdb_preamble"`
		FilePath              string `mapstructure:"file_path"`
		AppendFsync           string `mapstructure:"append_fsync"`
		AutoAofRewriteMinSize int64  `mapstructure:"auto_aof_rewrite_min_size"`
	} `mapstructure:"aof"`

	TLS struct {
		Port     int    `mapstructure:"port"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
	} `mapstructure:"tls"`
}

// Properties holds global config properties
var Properties *ServerProperties

var v *viper.Viper

func init() {
	v = newViper()
	Properties = &ServerProperties{}
	_ = v.Unmarshal(Properties)
	if Properties.Server.RunID == "" {
		Properties.Server.RunID = utils.RandString(40)
	}
}

func newViper() *viper.Viper {
	vp := viper.New()
	vp.SetConfigType("toml")

	vp.SetDefault("server.host", "0.0.0.0")
	vp.SetDefault("server.port", 6379)
	vp.SetDefault("server.expire_check_interval_secs", 1)
	vp.SetDefault("server.log_level", "info")
	vp.SetDefault("server.log_dir", "logs")
	vp.SetDefault("server.max_connections", 1024)
	vp.SetDefault("server.max_batch", 1024)
	vp.SetDefault("server.databases", 16)
	vp.SetDefault("server.use_event_loop", false)
	vp.SetDefault("memory.expiration_evict.samples_count", 10)
	vp.SetDefault("memory.oom.maxmemory", 0)
	vp.SetDefault("memory.oom.maxmemory_policy", "noeviction")
	vp.SetDefault("memory.oom.maxmemory_samples_count", 5)
	vp.SetDefault("rdb.file_path", "dump.rdb")
	vp.SetDefault("rdb.version", 1)
	vp.SetDefault("rdb.enable_checksum", true)
	vp.SetDefault("aof.enable", false)
	vp.SetDefault("aof.use_rdb_preamble", false)
	vp.SetDefault("aof.file_path", "appendonly.aof")
	vp.SetDefault("aof.append_fsync", "everysec")
	vp.SetDefault("aof.auto_aof_rewrite_min_size", 64*1024*1024)

	vp.SetEnvPrefix("RUTIN")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()
	return vp
}

// Setup reads the config file, the .env file and RUTIN_* environment
// variables into Properties. An empty path falls back to rutin.toml in the
// working directory if it exists.
func Setup(configFilename string) error {
	_ = godotenv.Load()

	vp := newViper()
	if configFilename == "" {
		if info, err := os.Stat(DefaultConfPath); err == nil && !info.IsDir() {
			configFilename = DefaultConfPath
		}
	}
	if configFilename != "" {
		vp.SetConfigFile(configFilename)
		if err := vp.ReadInConfig(); err != nil {
			return err
		}
	}
	props := &ServerProperties{}
	if err := vp.Unmarshal(props); err != nil {
		return err
	}
	if props.Server.RunID == "" {
		props.Server.RunID = utils.RandString(40)
	}
	v = vp
	Properties = props
	return nil
}

// Get returns the raw string form of a dotted config key, for CONFIG GET
func Get(key string) (string, bool) {
	if !v.IsSet(key) {
		return "", false
	}
	return v.GetString(key), true
}

// Set updates a dotted config key at runtime and re-applies Properties,
// for CONFIG SET
func Set(key string, value string) error {
	v.Set(key, value)
	props := &ServerProperties{}
	if err := v.Unmarshal(props); err != nil {
		return err
	}
	if props.Server.RunID == "" {
		props.Server.RunID = Properties.Server.RunID
	}
	Properties = props
	return nil
}
