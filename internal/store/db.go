package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/vesaa/wgtally/internal/config"
	"github.com/vesaa/wgtally/internal/logging"
	"github.com/vesaa/wgtally/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DB is the gorm-backed Repository.
type DB struct {
	db *gorm.DB
}

var _ Repository = (*DB)(nil)

// Open opens the database and runs AutoMigrate.
func Open(cfg *config.Config) (*DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite", "":
		dialector = sqlite.Open(sqliteDSN(cfg.DBPath))
	default:
		return nil, fmt.Errorf("unsupported db_driver %q (use 'sqlite')", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.AutoMigrate(&models.Identity{}, &models.Observation{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	logging.Info().Str("driver", "sqlite").Str("path", cfg.DBPath).Msg("database opened")
	return &DB{db: db}, nil
}

// sqliteDSN adds a busy timeout and opens transactions with BEGIN IMMEDIATE.
// A deferred transaction that has to upgrade its read lock gets SQLITE_BUSY
// at once, without waiting on the timeout.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
}

// gormWriter routes gorm's own log lines into zerolog.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...any) {
	logging.Warn().Str("component", "gorm").Msgf(format, args...)
}

// newGormLogger reports slow queries and errors. A missing row is the normal
// first-sight path of FindOrCreateIdentity, not an error.
func newGormLogger() logger.Interface {
	return logger.New(gormWriter{}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Close releases the underlying connection pool.
func (s *DB) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction implements Repository.
func (s *DB) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&DB{db: tx})
	})
}

// FindOrCreateIdentity looks the key up and inserts it if missing. The insert
// is ON CONFLICT DO NOTHING: if another writer created the row between our
// lookup and insert, nothing is inserted and we re-read the winner's row.
func (s *DB) FindOrCreateIdentity(ctx context.Context, publicKey string) (*models.Identity, error) {
	db := s.db.WithContext(ctx)

	ident, err := s.identityByKey(db, publicKey)
	if err == nil {
		return ident, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	created := models.Identity{PublicKey: publicKey}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "public_key"}},
		DoNothing: true,
	}).Create(&created)
	if res.Error != nil {
		return nil, fmt.Errorf("creating identity: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return &created, nil
	}

	// lost the race
	return s.identityByKey(db, publicKey)
}

func (s *DB) identityByKey(db *gorm.DB, publicKey string) (*models.Identity, error) {
	var ident models.Identity
	err := db.Where("public_key = ?", publicKey).First(&ident).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

// FindIdentity returns the identity with the given ID.
func (s *DB) FindIdentity(ctx context.Context, id uint) (*models.Identity, error) {
	var ident models.Identity
	err := s.db.WithContext(ctx).First(&ident, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

// ListIdentities returns all identities ordered by ID.
func (s *DB) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	var idents []models.Identity
	if err := s.db.WithContext(ctx).Order("id asc").Find(&idents).Error; err != nil {
		return nil, err
	}
	return idents, nil
}

// UpdateIdentityProfile overwrites name and email. The public key is not
// touched.
func (s *DB) UpdateIdentityProfile(ctx context.Context, id uint, p models.Profile) (*models.Identity, error) {
	ident, err := s.FindIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Model(ident).Updates(map[string]any{
		"name":  p.Name,
		"email": p.Email,
	}).Error
	if err != nil {
		return nil, err
	}
	ident.Name = p.Name
	ident.Email = p.Email
	return ident, nil
}

// AppendObservation inserts a new observation row.
func (s *DB) AppendObservation(ctx context.Context, obs *models.Observation) error {
	if obs.ID != 0 {
		return fmt.Errorf("observation %d already persisted", obs.ID)
	}
	return s.db.WithContext(ctx).Create(obs).Error
}

// RecentObservations returns the newest observations for an identity.
func (s *DB) RecentObservations(ctx context.Context, identityID uint, limit int) ([]models.Observation, error) {
	if limit <= 0 {
		return []models.Observation{}, nil
	}
	var obs []models.Observation
	err := s.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Order("observed_at desc").
		Order("id desc").
		Limit(limit).
		Find(&obs).Error
	if err != nil {
		return nil, err
	}
	return obs, nil
}
