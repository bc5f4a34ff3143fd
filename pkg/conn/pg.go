package conn

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// Option defines connection options for PostgreSQL.
type Option struct {
	Host            string            `json:"host" yaml:"host"`
	Port            int               `json:"port" yaml:"port"`
	User            string            `json:"user" yaml:"user"`
	Password        string            `json:"password" yaml:"password"`
	Database        string            `json:"database" yaml:"database"`
	SSLMode         string            `json:"sslMode" yaml:"sslMode"`
	Params          map[string]string `json:"params" yaml:"params"`
	ConnString      string            `json:"connString" yaml:"connString"`
	MaxOpenConns    int               `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int               `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration     `json:"connMaxLifetime" yaml:"connMaxLifetime"`
	Config          *gorm.Config      `json:"-" yaml:"-"`
}

// Enabled reports whether any connection target is configured.
func (opt Option) Enabled() bool {
	return opt.ConnString != "" || opt.Host != "" || opt.Database != ""
}

// FromEnv fills empty fields from PG_* environment variables.
func (opt Option) FromEnv() Option {
	str := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	str(&opt.ConnString, "PG_DSN")
	str(&opt.Host, "PG_HOST")
	str(&opt.User, "PG_USER")
	str(&opt.Password, "PG_PASSWORD")
	str(&opt.Database, "PG_DATABASE")
	str(&opt.SSLMode, "PG_SSLMODE")
	if opt.Port == 0 {
		if port, err := strconv.Atoi(os.Getenv("PG_PORT")); err == nil {
			opt.Port = port
		}
	}
	return opt
}

// Client wraps a PostgreSQL connection pool.
type Client struct {
	opt Option
	db  *gorm.DB
}

// New creates a PostgreSQL client from the provided options.
func New(option Option) (*Client, error) {
	config := option.Config
	if config == nil {
		config = &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	}

	db, err := gorm.Open(postgres.Open(option.DSN()), config)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "postgres pool")
	}
	if option.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(option.MaxOpenConns)
	}
	if option.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(option.MaxIdleConns)
	}
	if option.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(option.ConnMaxLifetime)
	}

	return &Client{opt: option, db: db}, nil
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DSN returns the connection string the options describe.
func (opt Option) DSN() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()
	return u.String()
}
