package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/pkg/logger"
)

// ErrNotFound is returned when a settlement targets a DApp that does not exist.
var ErrNotFound = errors.New("record not found")

type PostgresDB struct {
	logger *logger.Logger

	Conn *gorm.DB
}

var _ models.PolicyStore = (*PostgresDB)(nil)

func NewPostgresDB(user, password, dbname, host string, port int, logger *logger.Logger) (*PostgresDB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)
	return OpenPostgres(dsn, logger)
}

// OpenPostgres connects with a full DSN and migrates the schema.
func OpenPostgres(dsn string, logger *logger.Logger) (*PostgresDB, error) {
	// Configure GORM logger to suppress "record not found" messages
	gormLogger := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.AutoMigrate(
		&models.DApp{},
		&models.Contract{},
		&models.Sender{},
		&models.APIKey{},
		&models.ContractUsage{},
		&models.TransactionLog{},
		&models.EmailAlert{},
		&models.EmailAlertLog{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	logger.Info("Successfully connected to PostgreSQL!")
	return &PostgresDB{Conn: db, logger: logger}, nil
}

func (db *PostgresDB) Close() error {
	sqlDB, err := db.Conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.Close()
}

// withWhitelist preloads the whitelist entries consulted by authorization.
func withWhitelist(tx *gorm.DB) *gorm.DB {
	return tx.Preload("Contracts").Preload("Senders")
}

// noActiveAPIKey restricts a whitelist query to DApps reachable without a credential.
const noActiveAPIKey = "NOT EXISTS (SELECT 1 FROM api_keys WHERE api_keys.dapp_id = %s.dapp_id AND api_keys.active = true)"

func (db *PostgresDB) FindDAppByAPIKey(ctx context.Context, key string) (*models.DApp, error) {
	var apiKey models.APIKey
	err := db.Conn.WithContext(ctx).Where("key = ? AND active = ?", key, true).First(&apiKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find api key: %w", err)
	}
	return db.GetDApp(ctx, apiKey.DAppID)
}

func (db *PostgresDB) FindContractWhitelist(ctx context.Context, address string) (*models.Contract, error) {
	var contract models.Contract
	err := db.Conn.WithContext(ctx).
		Where("address = ? AND active = ?", address, true).
		Where(fmt.Sprintf(noActiveAPIKey, "contracts")).
		Order("created_at").
		First(&contract).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find whitelisted contract: %w", err)
	}
	return &contract, nil
}

func (db *PostgresDB) FindSenderWhitelist(ctx context.Context, address string) (*models.Sender, error) {
	var sender models.Sender
	err := db.Conn.WithContext(ctx).
		Where("address = ? AND active = ?", address, true).
		Where(fmt.Sprintf(noActiveAPIKey, "senders")).
		Order("created_at").
		First(&sender).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find whitelisted sender: %w", err)
	}
	return &sender, nil
}

func (db *PostgresDB) GetDApp(ctx context.Context, id string) (*models.DApp, error) {
	var dapp models.DApp
	err := withWhitelist(db.Conn.WithContext(ctx)).Where("id = ?", id).First(&dapp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dapp: %w", err)
	}
	return &dapp, nil
}

func (db *PostgresDB) Settle(ctx context.Context, s *models.Settlement) (*models.SettlementResult, error) {
	var result *models.SettlementResult
	err := db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-read under a row lock so concurrent settlements serialize on the DApp.
		var dapp models.DApp
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", s.DAppID).First(&dapp).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("dapp %s: %w", s.DAppID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to lock dapp: %w", err)
		}

		balance := dapp.Balance.Sub(s.Fee)
		totalUsed := dapp.TotalUsed.Add(s.Fee)
		now := time.Now()
		if err := tx.Model(&models.DApp{}).Where("id = ?", s.DAppID).Updates(map[string]interface{}{
			"balance":    balance,
			"total_used": totalUsed,
			"updated_at": now,
		}).Error; err != nil {
			return fmt.Errorf("failed to update dapp balance: %w", err)
		}

		usage := models.ContractUsage{
			ID:      uuid.NewString(),
			DAppID:  s.DAppID,
			Address: s.Log.To,
			Used:    s.Fee,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "dapp_id"}, {Name: "address"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"used":       gorm.Expr("contract_usages.used + EXCLUDED.used"),
				"updated_at": now,
			}),
		}).Create(&usage).Error; err != nil {
			return fmt.Errorf("failed to upsert contract usage: %w", err)
		}

		entry := s.Log
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		entry.DAppID = s.DAppID
		entry.Fee = s.Fee
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("failed to append transaction log: %w", err)
		}

		result = &models.SettlementResult{
			DAppID:    dapp.ID,
			DAppName:  dapp.Name,
			Balance:   balance,
			TotalUsed: totalUsed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (db *PostgresDB) GetContractUsages(ctx context.Context, dappID string) ([]*models.ContractUsage, error) {
	var usages []*models.ContractUsage
	if err := db.Conn.WithContext(ctx).Where("dapp_id = ?", dappID).Order("address").Find(&usages).Error; err != nil {
		return nil, fmt.Errorf("failed to get contract usages: %w", err)
	}
	return usages, nil
}

func (db *PostgresDB) ListActiveAlerts(ctx context.Context, dappID string) ([]*models.EmailAlert, error) {
	var alerts []*models.EmailAlert
	if err := db.Conn.WithContext(ctx).Where("dapp_id = ? AND is_active = ?", dappID, true).Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to list email alerts: %w", err)
	}
	return alerts, nil
}

func (db *PostgresDB) ClaimAlert(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	res := db.Conn.WithContext(ctx).Model(&models.EmailAlert{}).
		Where("id = ? AND is_active = ? AND (claimed_until IS NULL OR claimed_until <= ?)", id, true, now).
		Update("claimed_until", leaseUntil)
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim email alert: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (db *PostgresDB) ReleaseAlert(ctx context.Context, id string) error {
	if err := db.Conn.WithContext(ctx).Model(&models.EmailAlert{}).Where("id = ?", id).Update("claimed_until", nil).Error; err != nil {
		return fmt.Errorf("failed to release email alert: %w", err)
	}
	return nil
}

func (db *PostgresDB) CompleteAlert(ctx context.Context, entry *models.EmailAlertLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.EmailAlert{}).Where("id = ?", entry.AlertID).
			Updates(map[string]interface{}{"is_active": false, "claimed_until": nil})
		if res.Error != nil {
			return fmt.Errorf("failed to deactivate email alert: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("email alert %s: %w", entry.AlertID, ErrNotFound)
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to append email alert log: %w", err)
		}
		return nil
	})
}
