package db

import (
	"context"
	"fmt"
	"log"
	"messenger/config"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"
)

var ORM *gorm.DB

// replicasEnabled - зарегистрирован ли dbresolver (без него Clauses(dbresolver.*) не нужны)
var replicasEnabled bool

func dsnFromConfig(driver string, dbConf config.DBConfig) string {
	if dbConf.DSN != "" {
		return dbConf.DSN
	}
	switch driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			dbConf.User, dbConf.Password, dbConf.Host, dbConf.Port, dbConf.DBName)
	case "sqlite":
		return "file:messenger.db?_busy_timeout=5000"
	default:
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			dbConf.Host, dbConf.Port, dbConf.User, dbConf.Password, dbConf.DBName,
		)
	}
}

func dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported db driver %q", driver)
}

func ConnectDB() (err error) {
	if ORM != nil {
		log.Println("ORM is already initialized")
		return nil
	}

	conf := config.AppConfig
	if conf == nil {
		return fmt.Errorf("AppConfig is not loaded")
	}
	driver := conf.Databases.Driver
	if driver != "sqlite" && conf.Databases.Master.Host == "" && conf.Databases.Master.DSN == "" {
		return fmt.Errorf("master database configuration is missing")
	}

	master, err := dialector(driver, dsnFromConfig(driver, conf.Databases.Master))
	if err != nil {
		return err
	}
	replicas := make([]gorm.Dialector, 0, len(conf.Databases.Replicas))
	for _, r := range conf.Databases.Replicas {
		d, err := dialector(driver, dsnFromConfig(driver, r))
		if err != nil {
			return err
		}
		replicas = append(replicas, d)
	}

	db, err := Open(master)
	if err != nil {
		return err
	}

	if len(replicas) > 0 {
		err = db.Use(dbresolver.Register(dbresolver.Config{
			Replicas: replicas,
			Policy:   dbresolver.RandomPolicy{},
		}))
		if err != nil {
			return fmt.Errorf("failed to register replicas: %w", err)
		}
		replicasEnabled = true
	}

	if err = Migrate(db); err != nil {
		return err
	}

	ORM = db
	return nil
}

// Open открывает соединение с общими для всех драйверов настройками.
// TranslateError нужен, чтобы нарушения уникальных индексов приходили как gorm.ErrDuplicatedKey.
func Open(d gorm.Dialector) (*gorm.DB, error) {
	return gorm.Open(d, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
}

// GetReadOnlyDB возвращает подключение для чтения (слейвы)
func GetReadOnlyDB(ctx context.Context) *gorm.DB {
	if replicasEnabled {
		return ORM.WithContext(ctx).Clauses(dbresolver.Read).Session(&gorm.Session{})
	}
	return ORM.WithContext(ctx)
}

// GetWriteDB возвращает подключение для записи (мастер)
func GetWriteDB(ctx context.Context) *gorm.DB {
	if replicasEnabled {
		return ORM.WithContext(ctx).Clauses(dbresolver.Write).Session(&gorm.Session{})
	}
	return ORM.WithContext(ctx)
}
