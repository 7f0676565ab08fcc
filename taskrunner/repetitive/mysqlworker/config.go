package mysqlworker

import (
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// Config is the connection config of the job database.
type Config struct {
	// Host of MySQL server.
	Host string `json:"host"`

	// Port of MySQL server.
	Port uint16 `json:"port"`

	// User for connection.
	User string `json:"user"`

	// Password for connection.
	Password string `json:"password"`

	// Database is the default database, optional.
	Database string `json:"database"`

	// Charset for connecting.
	Charset string `json:"charset"`
}

// ToDriverCfg converts cfg to mysql driver config.
func (cfg *Config) ToDriverCfg() *mysql.Config {
	ret := mysql.NewConfig()
	ret.Net = "tcp"
	ret.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.getPort())
	ret.User = cfg.User
	ret.Passwd = cfg.Password
	ret.DBName = cfg.Database
	ret.ParseTime = true
	ret.InterpolateParams = true
	if ret.Params == nil {
		ret.Params = map[string]string{}
	}
	ret.Params["charset"] = cfg.getCharset()
	return ret
}

// Client opens mysql db.
func (cfg *Config) Client() (*sql.DB, error) {
	return sql.Open("mysql", cfg.ToDriverCfg().FormatDSN())
}

func (cfg *Config) getPort() uint16 {
	if cfg.Port != 0 {
		return cfg.Port
	}
	return 3306
}

func (cfg *Config) getCharset() string {
	if cfg.Charset != "" {
		return cfg.Charset
	}
	return "utf8mb4"
}
