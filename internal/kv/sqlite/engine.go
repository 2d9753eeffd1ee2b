// Package sqlite implements the durable kv.Provider engine backing real
// vaults, using gorm.io/gorm with the sqlite driver, grounded on the
// teacher's gorm-based store plugins.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/munkey/munkeyd/internal/kv"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	kv.Register(kv.Plugin{Name: "sqlite", Loader: New})
}

// attachmentRow is the durable row for one (doc, name) attachment, per
// SPEC_FULL.md §3's persistence representation.
type attachmentRow struct {
	Doc       string `gorm:"primaryKey"`
	Name      string `gorm:"primaryKey"`
	Rev       string
	MimeType  string
	Data      []byte
	UpdatedAt time.Time
}

// changeRow backs the live-replication changes feed.
type changeRow struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement"`
	Doc       string
	Rev       string
	Deleted   bool
	CreatedAt time.Time
}

// Engine is a gorm+sqlite kv.Provider, one database file per vault.
type Engine struct {
	db   *gorm.DB
	path string
}

// New opens (creating if absent) the sqlite file for cfg.Name under
// cfg.RootDir/munkey/<name>/store.db, per SPEC_FULL.md §6's persisted
// state layout.
func New(cfg kv.Config) (kv.Provider, error) {
	return OpenAt(filepath.Join(cfg.RootDir, "munkey", cfg.Name, "store.db"))
}

// OpenAt opens (creating if absent) the sqlite file at the exact path
// given, bypassing the <root>/munkey/<name>/ layout New assumes. Used by
// internal/adminstore, whose database lives at <root>/admin/info/admin.db
// per SPEC_FULL.md §6.
func OpenAt(path string) (kv.Provider, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("sqlite: creating directory for %s: %w", path, err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", path, err)
	}
	if err := db.AutoMigrate(&attachmentRow{}, &changeRow{}); err != nil {
		return nil, fmt.Errorf("sqlite: migrating %s: %w", path, err)
	}
	return &Engine{db: db, path: path}, nil
}

// OpenExisting opens the store for cfg exactly as New does: it does not
// check that the file already exists, and creates the directory, file and
// schema when they are absent.
func OpenExisting(cfg kv.Config) (kv.Provider, error) {
	return New(cfg)
}

func (e *Engine) GetAttachment(ctx context.Context, doc, name string) ([]byte, string, string, error) {
	var row attachmentRow
	err := e.db.WithContext(ctx).Where("doc = ? AND name = ?", doc, name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", "", kv.ErrNotFound
	}
	if err != nil {
		return nil, "", "", fmt.Errorf("sqlite: get attachment: %w", err)
	}
	return row.Data, row.MimeType, row.Rev, nil
}

func (e *Engine) PutAttachment(ctx context.Context, doc, name, rev string, data []byte, mime string) (string, error) {
	var newRev string
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing attachmentRow
		err := tx.Where("doc = ? AND name = ?", doc, name).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if rev != "" {
				return kv.ErrConflict
			}
		case err != nil:
			return fmt.Errorf("sqlite: loading current revision: %w", err)
		default:
			if existing.Rev != rev {
				return kv.ErrConflict
			}
		}

		newRev = uuid.NewString()
		row := attachmentRow{Doc: doc, Name: name, Rev: newRev, MimeType: mime, Data: data, UpdatedAt: time.Now()}
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("sqlite: saving attachment: %w", err)
		}
		return tx.Create(&changeRow{Doc: doc, Rev: newRev, CreatedAt: time.Now()}).Error
	})
	if err != nil {
		return "", err
	}
	return newRev, nil
}

func (e *Engine) Get(ctx context.Context, doc string) (string, error) {
	var row attachmentRow
	err := e.db.WithContext(ctx).Where("doc = ?", doc).Order("updated_at desc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", kv.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: get document: %w", err)
	}
	return row.Rev, nil
}

func (e *Engine) Remove(ctx context.Context, doc, rev string) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("doc = ? AND rev = ?", doc, rev).Delete(&attachmentRow{})
		if res.Error != nil {
			return fmt.Errorf("sqlite: removing attachment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return kv.ErrNotFound
		}
		return tx.Create(&changeRow{Doc: doc, Rev: rev, Deleted: true, CreatedAt: time.Now()}).Error
	})
}

func (e *Engine) Destroy(ctx context.Context) error {
	if err := e.db.WithContext(ctx).Exec("DELETE FROM attachment_rows").Error; err != nil {
		return fmt.Errorf("sqlite: destroying store: %w", err)
	}
	return e.db.WithContext(ctx).Exec("DELETE FROM change_rows").Error
}

func (e *Engine) Changes(ctx context.Context, since uint64) ([]kv.Change, uint64, error) {
	var rows []changeRow
	if err := e.db.WithContext(ctx).Where("seq > ?", since).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, since, fmt.Errorf("sqlite: listing changes: %w", err)
	}

	var maxSeq uint64
	if err := e.db.WithContext(ctx).Model(&changeRow{}).Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
		return nil, since, fmt.Errorf("sqlite: reading max seq: %w", err)
	}

	changes := make([]kv.Change, 0, len(rows))
	for _, r := range rows {
		c := kv.Change{Kind: kv.EventChange, DocID: r.Doc, Rev: r.Rev, Deleted: r.Deleted}
		if !r.Deleted {
			if data, _, _, err := e.GetAttachment(ctx, r.Doc, "passwords"); err == nil {
				c.Attachment = data
			}
		}
		changes = append(changes, c)
	}
	return changes, maxSeq, nil
}

func (e *Engine) ReplicateFrom(ctx context.Context, url string, onChange func(kv.Change)) error {
	_, err := kv.ReplicateOnce(ctx, url, 0, func(c kv.Change) error {
		if err := e.applyRemote(c); err != nil {
			return err
		}
		if onChange != nil {
			onChange(c)
		}
		return nil
	})
	return err
}

func (e *Engine) SyncLive(ctx context.Context, url string) (kv.SyncHandle, error) {
	return kv.StartSyncLive(ctx, url, 0, e.applyRemote), nil
}

func (e *Engine) applyRemote(c kv.Change) error {
	if c.Deleted || len(c.Attachment) == 0 {
		return nil
	}
	// Remote is authoritative during replication: overwrite regardless of
	// local revision, keeping the pulled revision id so that a later
	// Remove(doc, c.Rev) finds the row.
	return e.db.Transaction(func(tx *gorm.DB) error {
		row := attachmentRow{Doc: c.DocID, Name: "passwords", Rev: c.Rev, MimeType: "text/plain", Data: c.Attachment, UpdatedAt: time.Now()}
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("sqlite: applying remote change: %w", err)
		}
		return tx.Create(&changeRow{Doc: c.DocID, Rev: c.Rev, CreatedAt: time.Now()}).Error
	})
}
