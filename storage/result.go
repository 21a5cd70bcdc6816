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
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"gorm.io/gorm"
)

var ErrResultNotExist = errors.NotFoundf("result")

// Result is the outcome of a simulation run.
type Result struct {
	ID        string
	Config    string
	Control   []float64
	Treatment []float64
	Timestamp time.Time
}

// NewResult creates a result with a fresh id. The config is stored as JSON.
func NewResult(config any, control, treatment []float64) (*Result, error) {
	data, err := json.Marshal(config)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Result{
		ID:        uuid.NewString(),
		Config:    string(data),
		Control:   control,
		Treatment: treatment,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}, nil
}

// ResultStore persists the results of simulation runs.
type ResultStore interface {
	Init() error
	Close() error
	SaveResult(ctx context.Context, result *Result) error
	GetResult(ctx context.Context, id string) (*Result, error)
	ListResults(ctx context.Context) ([]*Result, error)
}

// OpenResultStore connects to a result store.
func OpenResultStore(path, tablePrefix string) (ResultStore, error) {
	var err error
	if IsSQL(path) {
		database := new(SQLResultStore)
		if database.gormDB, err = OpenGORM(path, tablePrefix); err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if IsMongo(path) {
		database := new(MongoResultStore)
		opts := options.Client()
		opts.Monitor = otelmongo.NewMonitor()
		opts.ApplyURI(path)
		if database.client, err = mongo.Connect(context.Background(), opts); err != nil {
			return nil, errors.Trace(err)
		}
		// parse DSN and extract database name
		if cs, err := connstring.ParseAndValidate(path); err != nil {
			return nil, errors.Trace(err)
		} else {
			database.dbName = cs.Database
			database.TablePrefix = TablePrefix(tablePrefix)
		}
		return database, nil
	}
	return nil, errors.Errorf("unknown result store: %s", path)
}

// SQLResult is the row of a result in a SQL database. Curves are stored as JSON arrays.
type SQLResult struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Config    string    `gorm:"column:config;type:text;not null"`
	Control   string    `gorm:"column:control;type:text;not null"`
	Treatment string    `gorm:"column:treatment;type:text;not null"`
	Timestamp time.Time `gorm:"column:timestamp;not null"`
}

func toSQLResult(result *Result) (*SQLResult, error) {
	control, err := json.Marshal(result.Control)
	if err != nil {
		return nil, errors.Trace(err)
	}
	treatment, err := json.Marshal(result.Treatment)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &SQLResult{
		ID:        result.ID,
		Config:    result.Config,
		Control:   string(control),
		Treatment: string(treatment),
		Timestamp: result.Timestamp,
	}, nil
}

func fromSQLResult(row *SQLResult) (*Result, error) {
	result := &Result{
		ID:        row.ID,
		Config:    row.Config,
		Timestamp: row.Timestamp.UTC(),
	}
	if err := json.Unmarshal([]byte(row.Control), &result.Control); err != nil {
		return nil, errors.Trace(err)
	}
	if err := json.Unmarshal([]byte(row.Treatment), &result.Treatment); err != nil {
		return nil, errors.Trace(err)
	}
	return result, nil
}

// SQLResultStore stores results in MySQL, Postgres or SQLite.
type SQLResultStore struct {
	gormDB *gorm.DB
}

func (d *SQLResultStore) Init() error {
	return errors.Trace(d.gormDB.AutoMigrate(&SQLResult{}))
}

func (d *SQLResultStore) Close() error {
	db, err := d.gormDB.DB()
	if err != nil {
		return errors.Trace(err)
	}
	return db.Close()
}

func (d *SQLResultStore) SaveResult(ctx context.Context, result *Result) error {
	row, err := toSQLResult(result)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.gormDB.WithContext(ctx).Create(row).Error)
}

func (d *SQLResultStore) GetResult(ctx context.Context, id string) (*Result, error) {
	var rows []SQLResult
	if err := d.gormDB.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	if len(rows) == 0 {
		return nil, errors.Trace(ErrResultNotExist)
	}
	return fromSQLResult(&rows[0])
}

func (d *SQLResultStore) ListResults(ctx context.Context) ([]*Result, error) {
	var rows []SQLResult
	if err := d.gormDB.WithContext(ctx).Order("timestamp, id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	results := make([]*Result, 0, len(rows))
	for i := range rows {
		result, err := fromSQLResult(&rows[i])
		if err != nil {
			return nil, errors.Trace(err)
		}
		results = append(results, result)
	}
	return results, nil
}

// MongoResultStore stores results as documents in MongoDB.
type MongoResultStore struct {
	TablePrefix
	client *mongo.Client
	dbName string
}

type mongoResult struct {
	ID        string    `bson:"_id"`
	Config    string    `bson:"config"`
	Control   []float64 `bson:"control"`
	Treatment []float64 `bson:"treatment"`
	Timestamp time.Time `bson:"timestamp"`
}

func (m *MongoResultStore) Init() error {
	ctx := context.Background()
	d := m.client.Database(m.dbName)
	collections, err := d.ListCollectionNames(ctx, bson.M{"name": m.ResultsTable()})
	if err != nil {
		return errors.Trace(err)
	}
	if len(collections) == 0 {
		if err = d.CreateCollection(ctx, m.ResultsTable()); err != nil {
			return errors.Trace(err)
		}
	}
	_, err = d.Collection(m.ResultsTable()).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{"timestamp", 1}},
	})
	return errors.Trace(err)
}

func (m *MongoResultStore) Close() error {
	return m.client.Disconnect(context.Background())
}

func (m *MongoResultStore) SaveResult(ctx context.Context, result *Result) error {
	c := m.client.Database(m.dbName).Collection(m.ResultsTable())
	_, err := c.InsertOne(ctx, mongoResult{
		ID:        result.ID,
		Config:    result.Config,
		Control:   result.Control,
		Treatment: result.Treatment,
		Timestamp: result.Timestamp,
	})
	return errors.Trace(err)
}

func (m *MongoResultStore) GetResult(ctx context.Context, id string) (*Result, error) {
	c := m.client.Database(m.dbName).Collection(m.ResultsTable())
	var doc mongoResult
	if err := c.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err == mongo.ErrNoDocuments {
		return nil, errors.Trace(ErrResultNotExist)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return fromMongoResult(&doc), nil
}

func (m *MongoResultStore) ListResults(ctx context.Context) ([]*Result, error) {
	c := m.client.Database(m.dbName).Collection(m.ResultsTable())
	opt := options.Find().SetSort(bson.D{{"timestamp", 1}, {"_id", 1}})
	cur, err := c.Find(ctx, bson.M{}, opt)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer cur.Close(ctx)
	var results []*Result
	for cur.Next(ctx) {
		var doc mongoResult
		if err = cur.Decode(&doc); err != nil {
			return nil, errors.Trace(err)
		}
		results = append(results, fromMongoResult(&doc))
	}
	return results, errors.Trace(cur.Err())
}

func fromMongoResult(doc *mongoResult) *Result {
	return &Result{
		ID:        doc.ID,
		Config:    doc.Config,
		Control:   doc.Control,
		Treatment: doc.Treatment,
		Timestamp: doc.Timestamp.UTC(),
	}
}
