package ledger

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/slavaghoul1337-coder/genge/types"
)

// InMemorySQLiteDSN opens an ephemeral database, mostly for tests.
const InMemorySQLiteDSN = ":memory:"

var _ Ledger = (*SQLite)(nil)

// redemption is one row per transaction reference. Reservations are rows with Committed=false.
type redemption struct {
	TxRef       string `gorm:"primaryKey;size:66"`
	Token       string `gorm:"size:36"`
	Committed   bool   `gorm:"not null;default:false;index"`
	PayerWallet string `gorm:"size:42"`
	ItemID      *string
	Strategy    string `gorm:"size:32"`
	RedeemedAt  *time.Time
	CreatedAt   time.Time
}

func (redemption) TableName() string { return "redemptions" }

func (r redemption) toRecord() types.RedemptionRecord {
	rec := types.RedemptionRecord{
		TxRef:       r.TxRef,
		PayerWallet: r.PayerWallet,
		Strategy:    types.Reason(r.Strategy),
	}
	if r.ItemID != nil {
		if id, ok := new(big.Int).SetString(*r.ItemID, 10); ok {
			rec.ItemID = id
		}
	}
	if r.RedeemedAt != nil {
		rec.RedeemedAt = r.RedeemedAt.UTC()
	}
	return rec
}

// SQLite is a durable ledger backed by GORM. Redemptions survive restarts.
type SQLite struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database at path and migrates the schema.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := path
	if dsn != InMemorySQLiteDSN {
		if dir := filepath.Dir(dsn); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, errors.Wrapf(err, "failed to create directory: %s", dir)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open SQLite database")
	}
	if err := db.AutoMigrate(&redemption{}); err != nil {
		return nil, errors.Wrap(err, "failed to auto-migrate database schema")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying sql.DB")
	}
	// one connection keeps :memory: a single database and serializes writers
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	return &SQLite{db: db}, nil
}

func (s *SQLite) TryReserve(ctx context.Context, txRef string) (Reservation, bool, error) {
	key, err := normalize(txRef)
	if err != nil {
		return Reservation{}, false, err
	}

	reservation := newReservation(key)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&redemption{TxRef: key, Token: reservation.Token})
	if res.Error != nil {
		return Reservation{}, false, errors.Wrap(res.Error, "failed to reserve transaction reference")
	}
	if res.RowsAffected != 1 {
		return Reservation{}, false, nil
	}
	return reservation, true, nil
}

func (s *SQLite) Commit(ctx context.Context, reservation Reservation, record types.RedemptionRecord) error {
	key, err := commitKey(reservation, record)
	if err != nil {
		return err
	}
	record.TxRef = key

	redeemedAt := record.RedeemedAt.UTC()
	updates := map[string]any{
		"committed":    true,
		"payer_wallet": record.PayerWallet,
		"item_id":      nil,
		"strategy":     string(record.Strategy),
		"redeemed_at":  &redeemedAt,
	}
	if record.ItemID != nil {
		updates["item_id"] = record.ItemID.String()
	}

	res := s.db.WithContext(ctx).
		Model(&redemption{}).
		Where("tx_ref = ? AND committed = ? AND token = ?", key, false, reservation.Token).
		Updates(updates)
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to commit redemption")
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var existing redemption
	err = s.db.WithContext(ctx).Where("tx_ref = ?", key).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotReserved
	}
	if err != nil {
		return errors.Wrap(err, "failed to load redemption")
	}
	if existing.Token != reservation.Token || !existing.Committed {
		return ErrNotReserved
	}
	if existing.toRecord().SameClaim(record) {
		return nil
	}
	return ErrConflictingCommit
}

func (s *SQLite) Release(ctx context.Context, reservation Reservation) error {
	key, err := normalize(reservation.TxRef)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).
		Where("tx_ref = ? AND committed = ? AND token = ?", key, false, reservation.Token).
		Delete(&redemption{}).Error
	return errors.Wrap(err, "failed to release reservation")
}

func (s *SQLite) Lookup(ctx context.Context, txRef string) (*types.RedemptionRecord, error) {
	key, err := normalize(txRef)
	if err != nil {
		return nil, err
	}

	var row redemption
	err = s.db.WithContext(ctx).Where("tx_ref = ? AND committed = ?", key, true).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load redemption")
	}
	rec := row.toRecord()
	return &rec, nil
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to retrieve native sql.DB")
	}
	return errors.Wrap(sqlDB.Close(), "failed to close database connection")
}
