// Package metadata persists image records and tags in SQLite through gorm.
package metadata

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/image"
	"github.com/xmx0632/photoshow/storage"
)

// imageRow is the persisted form of image.Record. CreatedAt is kept as
// the original string so unparsable timestamps round-trip.
type imageRow struct {
	ID            string `gorm:"primaryKey;type:text"`
	URL           string
	Prompt        string
	CreatedAt     string
	IsCloudImage  bool
	FileName      string `gorm:"index"`
	CloudFileName string `gorm:"index"`
	UpdatedAt     time.Time
	Tags          []tagRow `gorm:"foreignKey:ImageID"`
}

func (imageRow) TableName() string { return "images" }

type tagRow struct {
	ImageID string `gorm:"primaryKey;type:text"`
	Tag     string `gorm:"primaryKey;type:text;index"`
}

func (tagRow) TableName() string { return "image_tags" }

// Store is a storage.MetadataStore on gorm.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ storage.MetadataStore = (*Store)(nil)

// Open opens (or creates) the SQLite database at path and migrates it.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "metadata", "Open", "database path")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "metadata", "Open", "open database")
	}
	return New(db, logger)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&imageRow{}, &tagRow{}); err != nil {
		return nil, errors.WrapFatal(err, "metadata", "New", "migrate schema")
	}
	return &Store{db: db, logger: logger.With("component", "metadata")}, nil
}

// Upsert implements storage.MetadataStore. Tags are replaced.
func (s *Store) Upsert(ctx context.Context, record image.Record) error {
	record = image.Finalize(record)
	if record.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "metadata", "Upsert", "record without id")
	}

	row := toRow(record)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Tags").Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return err
		}
		return replaceTags(tx, record.ID, record.Tags)
	})
	if err != nil {
		return errors.WrapTransient(err, "metadata", "Upsert", fmt.Sprintf("upsert %s", record.ID))
	}
	return nil
}

// Get implements storage.MetadataStore.
func (s *Store) Get(ctx context.Context, id string) (image.Record, error) {
	var row imageRow
	err := s.db.WithContext(ctx).Preload("Tags").Where("id = ?", id).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return image.Record{}, fmt.Errorf("%w: %s", errors.ErrKeyNotFound, id)
	}
	if err != nil {
		return image.Record{}, errors.WrapTransient(err, "metadata", "Get", "query image")
	}
	return row.record(), nil
}

// List implements storage.MetadataStore.
func (s *Store) List(ctx context.Context) ([]image.Record, error) {
	var rows []imageRow
	if err := s.db.WithContext(ctx).Preload("Tags").Order("id").Find(&rows).Error; err != nil {
		return nil, errors.WrapTransient(err, "metadata", "List", "query images")
	}
	records := make([]image.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	image.SortNewestFirst(records)
	return records, nil
}

// Delete implements storage.MetadataStore.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("image_id = ?", id).Delete(&tagRow{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&imageRow{}).Error
	})
	if err != nil {
		return errors.WrapTransient(err, "metadata", "Delete", fmt.Sprintf("delete %s", id))
	}
	return nil
}

// SetTags implements storage.MetadataStore.
func (s *Store) SetTags(ctx context.Context, id string, tags []string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&imageRow{}).Where("id = ?", id).Update("updated_at", time.Now().UTC())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", errors.ErrKeyNotFound, id)
		}
		return replaceTags(tx, id, image.NewTags(tags...))
	})
	if stderrors.Is(err, errors.ErrKeyNotFound) {
		return err
	}
	if err != nil {
		return errors.WrapTransient(err, "metadata", "SetTags", fmt.Sprintf("tag %s", id))
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func replaceTags(tx *gorm.DB, id string, tags image.Tags) error {
	if err := tx.Where("image_id = ?", id).Delete(&tagRow{}).Error; err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}
	rows := make([]tagRow, 0, len(tags))
	for _, t := range tags {
		rows = append(rows, tagRow{ImageID: id, Tag: t})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func toRow(r image.Record) imageRow {
	return imageRow{
		ID:            r.ID,
		URL:           r.URL,
		Prompt:        r.Prompt,
		CreatedAt:     r.CreatedAt,
		IsCloudImage:  r.IsCloudImage,
		FileName:      r.FileName,
		CloudFileName: r.CloudFileName,
		UpdatedAt:     time.Now().UTC(),
	}
}

func (row imageRow) record() image.Record {
	tags := make(image.Tags, 0, len(row.Tags))
	for _, t := range row.Tags {
		tags = append(tags, t.Tag)
	}
	return image.Record{
		ID:            row.ID,
		URL:           row.URL,
		Prompt:        row.Prompt,
		CreatedAt:     row.CreatedAt,
		Tags:          tags,
		IsCloudImage:  row.IsCloudImage,
		FileName:      row.FileName,
		CloudFileName: row.CloudFileName,
	}
}
