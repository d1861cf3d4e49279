package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"wallet_ledger/internal/logger"
)

const (
	DefaultTTL = 5 * time.Minute
	codeDigits = 6
)

// Result is the outcome of checking a code.
type Result int

const (
	Invalid Result = iota
	Valid
	Expired
)

func (r Result) String() string {
	switch r {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	default:
		return "invalid"
	}
}

type AuthCode struct {
	CodeID    string    `gorm:"column:code_id;primaryKey;type:varchar(36)"`
	UserID    string    `gorm:"column:user_id;type:varchar(64);not null;index"`
	Code      string    `gorm:"column:code;type:varchar(10);not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// Store issues single-use authorization codes and checks them.
type Store struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

func NewStore(db *gorm.DB, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{db: db, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source; used by tests to move past expiry.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Issue replaces any outstanding codes of userID with a fresh one.
func (s *Store) Issue(ctx context.Context, userID string) (*AuthCode, error) {
	code, err := randomDigits(codeDigits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}
	now := s.now()
	ac := &AuthCode{
		CodeID:    uuid.New().String(),
		UserID:    userID,
		Code:      code,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&AuthCode{}).Error; err != nil {
			return fmt.Errorf("failed to clear previous codes: %w", err)
		}
		if err := tx.Create(ac).Error; err != nil {
			return fmt.Errorf("failed to store code: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx).Str("user_id", userID).Time("expires_at", ac.ExpiresAt).Msg("authorization code issued")
	return ac, nil
}

// Verify checks code for userID within tx. A valid code is deleted in tx, so
// it is consumed only if tx commits.
func (s *Store) Verify(ctx context.Context, tx *gorm.DB, userID, code string) (Result, error) {
	var codes []AuthCode
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).Find(&codes).Error; err != nil {
		return Invalid, fmt.Errorf("failed to load codes: %w", err)
	}

	var match *AuthCode
	for i := range codes {
		if subtle.ConstantTimeCompare([]byte(codes[i].Code), []byte(code)) == 1 {
			match = &codes[i]
			break
		}
	}
	if match == nil {
		return Invalid, nil
	}
	if !s.now().Before(match.ExpiresAt) {
		return Expired, nil
	}

	result := tx.WithContext(ctx).Where("code_id = ?", match.CodeID).Delete(&AuthCode{})
	if result.Error != nil {
		return Invalid, fmt.Errorf("failed to consume code: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return Invalid, nil
	}
	return Valid, nil
}

// DiscardExpired deletes userID's codes that are past their expiry. Verify
// reports expiry without deleting, since its transaction is rolled back.
func (s *Store) DiscardExpired(ctx context.Context, userID string) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND expires_at <= ?", userID, s.now()).
		Delete(&AuthCode{}).Error
	if err != nil {
		return fmt.Errorf("failed to discard expired codes: %w", err)
	}
	return nil
}

// PurgeExpired deletes every code past its expiry and reports how many went.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&AuthCode{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge codes: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RunPurger calls PurgeExpired every interval until ctx is done.
func (s *Store) RunPurger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				logger.Error(ctx).Err(err).Msg("purge expired codes")
				continue
			}
			if n > 0 {
				logger.Debug(ctx).Int64("purged", n).Msg("expired codes purged")
			}
		}
	}
}

func randomDigits(n int) (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < n; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", n, v.Int64()), nil
}
