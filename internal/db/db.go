package db

import (
	"fmt"
	"time"

	"campus_market/internal/config"
	"campus_market/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 按配置连接数据库。
// SQLite 限制为单连接：写事务天然串行，避免 database is locked。
func Open(cfg config.AppConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn), NowFunc: utcNow, TranslateError: true}

	switch cfg.DBDriver {
	case "sqlite":
		return OpenSQLite(cfg.DBDSN, gcfg)
	case "postgres":
		db, err := gorm.Open(postgres.Open(cfg.DBDSN), gcfg)
		if err != nil {
			return nil, fmt.Errorf("db open postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(30 * time.Minute)
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}

// OpenSQLite 打开 SQLite，测试也走这里。
func OpenSQLite(dsn string, gcfg *gorm.Config) (*gorm.DB, error) {
	if gcfg == nil {
		gcfg = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), NowFunc: utcNow, TranslateError: true}
	}
	db, err := gorm.Open(sqlite.Open(dsn), gcfg)
	if err != nil {
		return nil, fmt.Errorf("db open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// 时间统一存 UTC，SQLite 下时间以文本比较，时区必须一致。
func utcNow() time.Time { return time.Now().UTC() }

// Migrate 自动建表，并补一个部分唯一索引：同一商品同时至多一个未终结订单。
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.Order{},
		&model.Negotiation{},
		&model.WalletAccount{},
		&model.WalletEntry{},
		&model.RechargeRecord{},
		&model.OutboxEvent{},
	)
	if err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	ddl := fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_active_product ON orders (product_id) WHERE status IN (%d, %d, %d, %d)",
		model.OrderPendingPayment, model.OrderPaid, model.OrderShipped, model.OrderDelivered,
	)
	if err := db.Exec(ddl).Error; err != nil {
		return fmt.Errorf("db migrate active product index: %w", err)
	}
	return nil
}
