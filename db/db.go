package db

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

type patchedLogger struct {
	zapgorm2.Logger
}

// ErrRecordNotFound will be handled in application logic, let's not forward this to zap/sentry
func (l *patchedLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if err == gorm.ErrRecordNotFound {
		return
	}
	l.Logger.Trace(ctx, begin, fc, err)
}

// Options contains the parameters for connecting to the database
type Options struct {
	URI    string
	Logger *zap.Logger
}

// Config returns the gorm configuration shared by every dialector.
// Foreign keys are not created since provider webhooks can arrive in any order
// (a subscription may be seen before its price).
func Config(logger *zap.Logger) *gorm.Config {
	return &gorm.Config{
		Logger: &patchedLogger{
			Logger: zapgorm2.Logger{
				ZapLogger:        logger,
				LogLevel:         gormlogger.Warn,
				SlowThreshold:    time.Second,
				SkipCallerLookup: false,
			},
		},
		DisableForeignKeyConstraintWhenMigrating: true,
	}
}

// New returns an instance for interacting with the PostgreSQL database
func New(option Options) (*gorm.DB, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.URI) == 0 {
		return nil, fmt.Errorf("empty URI is invalid")
	}
	db, err := gorm.Open(postgres.Open(option.URI), Config(option.Logger))
	if err != nil {
		return nil, errors.Wrap(err, "Cannot connect to database")
	}
	pool, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "Cannot get the connection pool")
	}
	pool.SetMaxIdleConns(1)
	pool.SetMaxOpenConns(20)
	pool.SetConnMaxLifetime(time.Hour)
	return db, nil
}
