// internal/pkg/database/mysql.go
package database

import (
	"context"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ordersaga/internal/pkg/config"
	"ordersaga/internal/pkg/logger"
)

// ErDupEntry is MySQL's duplicate key error number.
const ErDupEntry = 1062

// OpenMySQL connects gorm to MySQL and migrates models when the config asks for it.
func OpenMySQL(ctx context.Context, cfg config.MySQL, models ...any) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open mysql %s/%s", cfg.Addr, cfg.Database)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "unwrap sql.DB")
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "ping mysql")
	}
	if cfg.AutoMigrate && len(models) > 0 {
		if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
			return nil, errors.Wrap(err, "auto-migrate")
		}
	}
	logger.Ctx(ctx).Info().Str("addr", cfg.Addr).Str("database", cfg.Database).Msg("✅ Successfully connected to MySQL.")
	return db, nil
}

// IsDuplicateKey reports whether err is a MySQL unique-key violation.
func IsDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == ErDupEntry
}

// Close releases the pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
