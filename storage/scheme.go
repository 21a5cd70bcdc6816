// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"net/url"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/go-sql-driver/mysql"
	"github.com/gorse-io/marketsim/base/log"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	"go.uber.org/zap"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	_ "modernc.org/sqlite"
)

const (
	MySQLPrefix      = "mysql://"
	MongoPrefix      = "mongodb://"
	MongoSrvPrefix   = "mongodb+srv://"
	PostgresPrefix   = "postgres://"
	PostgreSQLPrefix = "postgresql://"
	SQLitePrefix     = "sqlite://"
	RedisPrefix      = "redis://"
	RedissPrefix     = "rediss://"
)

// IsSQL returns true if the URL points to a database reachable through gorm.
func IsSQL(path string) bool {
	return strings.HasPrefix(path, MySQLPrefix) ||
		strings.HasPrefix(path, PostgresPrefix) ||
		strings.HasPrefix(path, PostgreSQLPrefix) ||
		strings.HasPrefix(path, SQLitePrefix)
}

func IsMongo(path string) bool {
	return strings.HasPrefix(path, MongoPrefix) || strings.HasPrefix(path, MongoSrvPrefix)
}

func IsRedis(path string) bool {
	return strings.HasPrefix(path, RedisPrefix) || strings.HasPrefix(path, RedissPrefix)
}

func AppendURLParams(rawURL string, params []lo.Tuple2[string, string]) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Trace(err)
	}
	q := parsed.Query()
	for _, tuple := range params {
		q.Add(tuple.A, tuple.B)
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

func AppendMySQLParams(dsn string, params map[string]string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", errors.Trace(err)
	}
	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}
	for key, value := range params {
		if _, exist := cfg.Params[key]; !exist {
			cfg.Params[key] = value
		}
	}
	return cfg.FormatDSN(), nil
}

type TablePrefix string

func (tp TablePrefix) ResultsTable() string {
	return string(tp) + "results"
}

func NewGORMConfig(tablePrefix string) *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(zap.NewStdLog(log.Logger()), logger.Config{
			SlowThreshold:             10 * time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		CreateBatchSize:        1000,
		SkipDefaultTransaction: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   tablePrefix,
			SingularTable: true,
			NameReplacer: strings.NewReplacer(
				"SQLResult", "Results",
				"SQLProgress", "Progress",
			),
		},
	}
}

// OpenGORM connects to a MySQL, Postgres or SQLite database.
func OpenGORM(path, tablePrefix string) (*gorm.DB, error) {
	var err error
	if strings.HasPrefix(path, MySQLPrefix) {
		name := path[len(MySQLPrefix):]
		// append parameters
		if name, err = AppendMySQLParams(name, map[string]string{
			"sql_mode":  "'ONLY_FULL_GROUP_BY,STRICT_TRANS_TABLES,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION'",
			"parseTime": "true",
		}); err != nil {
			return nil, errors.Trace(err)
		}
		client, err := otelsql.Open("mysql", name,
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
		if err != nil {
			return nil, errors.Trace(err)
		}
		db, err := gorm.Open(gormmysql.New(gormmysql.Config{Conn: client}), NewGORMConfig(tablePrefix))
		return db, errors.Trace(err)
	} else if strings.HasPrefix(path, PostgresPrefix) || strings.HasPrefix(path, PostgreSQLPrefix) {
		client, err := otelsql.Open("postgres", path,
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
		if err != nil {
			return nil, errors.Trace(err)
		}
		db, err := gorm.Open(postgres.New(postgres.Config{Conn: client}), NewGORMConfig(tablePrefix))
		return db, errors.Trace(err)
	} else if strings.HasPrefix(path, SQLitePrefix) {
		// append parameters
		if path, err = AppendURLParams(path, []lo.Tuple2[string, string]{
			{"_pragma", "busy_timeout(10000)"},
			{"_pragma", "journal_mode(wal)"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		name := path[len(SQLitePrefix):]
		client, err := otelsql.Open("sqlite", name,
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
		if err != nil {
			return nil, errors.Trace(err)
		}
		db, err := gorm.Open(sqlite.Dialector{Conn: client}, NewGORMConfig(tablePrefix))
		return db, errors.Trace(err)
	}
	return nil, errors.Errorf("unknown database: %s", log.RedactDBURL(path))
}
