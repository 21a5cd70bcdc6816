// Copyright 2026 gorse Project Authors
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
	"bufio"
	"context"
	"crypto/tls"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const defaultProgressKey = "marketsim:progress"

// ProgressLog is an append-only sink of progress lines.
type ProgressLog interface {
	Append(ctx context.Context, line string) error
	Lines(ctx context.Context) ([]string, error)
	Close() error
}

// OpenProgressLog opens a progress sink. The path is a redis URL (redis://host:port/key), a SQL
// database URL, or a plain file path.
func OpenProgressLog(path string) (ProgressLog, error) {
	if IsRedis(path) {
		return openRedisProgress(path)
	} else if IsSQL(path) {
		db, err := OpenGORM(path, "")
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err = db.AutoMigrate(&SQLProgress{}); err != nil {
			return nil, errors.Trace(err)
		}
		return &SQLProgressLog{gormDB: db}, nil
	} else if IsMongo(path) {
		return nil, errors.NotSupportedf("progress log on %s", MongoPrefix)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &FileProgressLog{path: path, file: file}, nil
}

// FileProgressLog appends lines to a local file.
type FileProgressLog struct {
	path string
	mu   sync.Mutex
	file *os.File
}

func (f *FileProgressLog) Append(_ context.Context, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.file.WriteString(line + "\n")
	return errors.Trace(err)
}

func (f *FileProgressLog) Lines(_ context.Context) ([]string, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, errors.Trace(scanner.Err())
}

func (f *FileProgressLog) Close() error {
	return f.file.Close()
}

// RedisProgressLog pushes lines to a redis list.
type RedisProgressLog struct {
	client *redis.Client
	key    string
}

func openRedisProgress(path string) (*RedisProgressLog, error) {
	parsed, err := url.Parse(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	opts := &redis.Options{Addr: parsed.Host}
	if parsed.User != nil {
		opts.Username = parsed.User.Username()
		opts.Password, _ = parsed.User.Password()
	}
	if strings.HasPrefix(path, RedissPrefix) {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	key := strings.TrimPrefix(parsed.Path, "/")
	if key == "" {
		key = defaultProgressKey
	}
	client := redis.NewClient(opts)
	if err = redisotel.InstrumentTracing(client); err != nil {
		return nil, errors.Trace(err)
	}
	return &RedisProgressLog{client: client, key: key}, nil
}

func (r *RedisProgressLog) Append(ctx context.Context, line string) error {
	return errors.Trace(r.client.RPush(ctx, r.key, line).Err())
}

func (r *RedisProgressLog) Lines(ctx context.Context) ([]string, error) {
	lines, err := r.client.LRange(ctx, r.key, 0, -1).Result()
	return lines, errors.Trace(err)
}

func (r *RedisProgressLog) Close() error {
	return r.client.Close()
}

// SQLProgress is a progress line stored in a SQL database.
type SQLProgress struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Line      string    `gorm:"type:varchar(256);not null"`
	Timestamp time.Time `gorm:"not null"`
}

// SQLProgressLog inserts lines into a SQL table.
type SQLProgressLog struct {
	gormDB *gorm.DB
}

func (s *SQLProgressLog) Append(ctx context.Context, line string) error {
	return errors.Trace(s.gormDB.WithContext(ctx).Create(&SQLProgress{
		Line:      line,
		Timestamp: time.Now().UTC(),
	}).Error)
}

func (s *SQLProgressLog) Lines(ctx context.Context) ([]string, error) {
	var rows []SQLProgress
	if err := s.gormDB.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	lines := make([]string, len(rows))
	for i, row := range rows {
		lines[i] = row.Line
	}
	return lines, nil
}

func (s *SQLProgressLog) Close() error {
	db, err := s.gormDB.DB()
	if err != nil {
		return errors.Trace(err)
	}
	return db.Close()
}
