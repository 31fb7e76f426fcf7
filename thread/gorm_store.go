package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/internal/util"
	"github.com/hupe1980/freza/logging"
)

// Compile-time check that GormStore implements core.ThreadStore.
var _ core.ThreadStore = (*GormStore)(nil)

// GormStore keeps threads and turns in SQL tables.
type GormStore struct {
	db       *gorm.DB
	locks    *keyedMutex
	reserved *reservations
	opts     StoreOptions
}

// NewGormStore opens driver/dsn and migrates the schema.
func NewGormStore(driver, dsn string, optFns ...func(o *StoreOptions)) (*GormStore, error) {
	gormDB, err := OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open gorm store: %w", err)
	}
	return NewGormStoreFromDB(gormDB, optFns...)
}

// NewGormStoreFromDB wraps an existing connection and migrates the schema.
func NewGormStoreFromDB(gormDB *gorm.DB, optFns ...func(o *StoreOptions)) (*GormStore, error) {
	opts := StoreOptions{Clock: time.Now, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	store := &GormStore{
		db:       gormDB,
		locks:    newKeyedMutex(),
		reserved: newReservations(),
		opts:     opts,
	}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *GormStore) migrate() error {
	if err := s.db.AutoMigrate(&threadRow{}, &turnRow{}); err != nil {
		return fmt.Errorf("migrate thread schema: %w", err)
	}
	return nil
}

// AppendTurn implements core.ThreadStore.
func (s *GormStore) AppendTurn(ctx context.Context, threadID, agent, channel string, turn core.Turn) (string, error) {
	create := threadID == ""
	if create {
		threadID = util.NewID()
	}
	normalizeTurn(&turn)

	unlock := s.locks.Lock(threadID)
	defer unlock()

	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var th threadRow
		err := tx.Where("thread_id = ?", threadID).Take(&th).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if !create && !s.reserved.has(threadID) {
				return core.NewNotFound("thread", threadID)
			}
			stampTurn(&turn, time.Time{}, s.opts.Clock)
			th = threadRow{
				ThreadID:      threadID,
				Agent:         agent,
				Channel:       channel,
				CreatedAt:     turn.CreatedAt,
				LastTimestamp: turn.CreatedAt,
			}
			if err := tx.Create(&th).Error; err != nil {
				return translateWriteErr(threadID, "create thread", err)
			}
			created = true
		case err != nil:
			return fmt.Errorf("get thread: %w", err)
		default:
			stampTurn(&turn, th.LastTimestamp, s.opts.Clock)
		}

		if turn.InstanceID != "" && !created {
			var dup int64
			if err := tx.Model(&turnRow{}).
				Where("thread_id = ? AND instance_id = ?", threadID, turn.InstanceID).
				Count(&dup).Error; err != nil {
				return fmt.Errorf("duplicate lookup: %w", err)
			}
			if dup > 0 {
				return &core.ConcurrencyError{
					ThreadID: threadID,
					Detail:   fmt.Sprintf("instance %s already recorded a turn", turn.InstanceID),
				}
			}
		}

		var maxSeq int64
		if err := tx.Model(&turnRow{}).
			Where("thread_id = ?", threadID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("sequence lookup: %w", err)
		}

		row, err := turnRowFromTurn(threadID, maxSeq+1, turn)
		if err != nil {
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			return translateWriteErr(threadID, "create turn", err)
		}
		if !created {
			if err := tx.Model(&threadRow{}).
				Where("thread_id = ?", threadID).
				Update("last_timestamp", turn.CreatedAt).Error; err != nil {
				return fmt.Errorf("touch thread: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if created {
		s.reserved.release(threadID)
	}
	return threadID, nil
}

func translateWriteErr(threadID, op string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
		return &core.ConcurrencyError{ThreadID: threadID, Detail: fmt.Sprintf("%s: %v", op, err)}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// GetThread implements core.ThreadStore.
func (s *GormStore) GetThread(ctx context.Context, threadID string) (*core.Thread, error) {
	var th threadRow
	err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).Take(&th).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, core.NewNotFound("thread", threadID)
		}
		return nil, fmt.Errorf("get thread: %w", err)
	}

	var rows []turnRow
	if err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get turns: %w", err)
	}

	out := &core.Thread{
		ThreadID:      th.ThreadID,
		Agent:         th.Agent,
		Channel:       th.Channel,
		CreatedAt:     th.CreatedAt,
		LastTimestamp: th.LastTimestamp,
		Entries:       make([]core.Turn, 0, len(rows)),
	}
	for _, r := range rows {
		t, err := r.toTurn()
		if err != nil {
			return nil, err
		}
		out.Entries = append(out.Entries, t)
	}
	return out, nil
}

// ListThreads implements core.ThreadStore.
func (s *GormStore) ListThreads(ctx context.Context) ([]core.ThreadSummary, error) {
	var threads []threadRow
	if err := s.db.WithContext(ctx).Order("last_timestamp DESC").Find(&threads).Error; err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}

	var counts []struct {
		ThreadID string
		N        int
	}
	if err := s.db.WithContext(ctx).Model(&turnRow{}).
		Select("thread_id, COUNT(*) AS n").
		Group("thread_id").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count turns: %w", err)
	}
	countByID := make(map[string]int, len(counts))
	for _, c := range counts {
		countByID[c.ThreadID] = c.N
	}

	var firsts []struct {
		ThreadID       string
		TriggerMessage string
	}
	if err := s.db.WithContext(ctx).Model(&turnRow{}).
		Select("thread_id, trigger_message").
		Where("seq = 1").
		Scan(&firsts).Error; err != nil {
		return nil, fmt.Errorf("first turns: %w", err)
	}
	firstByID := make(map[string]string, len(firsts))
	for _, f := range firsts {
		firstByID[f.ThreadID] = f.TriggerMessage
	}

	out := make([]core.ThreadSummary, 0, len(threads))
	for _, th := range threads {
		out = append(out, core.ThreadSummary{
			ThreadID:      th.ThreadID,
			Title:         Title(firstByID[th.ThreadID]),
			Agent:         th.Agent,
			Channel:       th.Channel,
			MessageCount:  countByID[th.ThreadID],
			CreatedAt:     th.CreatedAt,
			LastTimestamp: th.LastTimestamp,
		})
	}
	sortSummaries(out)
	return out, nil
}

// Stats implements core.ThreadStore with SQL aggregates.
func (s *GormStore) Stats(ctx context.Context) (core.Stats, error) {
	var rows []struct {
		Channel    string
		Runs       int
		Cost       float64
		DurationMS int64
	}
	if err := s.db.WithContext(ctx).Table("turns").
		Select("threads.channel AS channel, COUNT(turns.id) AS runs, COALESCE(SUM(turns.cost_usd), 0) AS cost, COALESCE(SUM(turns.duration_ms), 0) AS duration_ms").
		Joins("JOIN threads ON threads.thread_id = turns.thread_id").
		Group("threads.channel").
		Scan(&rows).Error; err != nil {
		return core.Stats{}, fmt.Errorf("aggregate stats: %w", err)
	}
	acc := core.NewStatsAccumulator()
	for _, r := range rows {
		acc.AddRaw(r.Channel, r.Runs, r.Cost, r.DurationMS)
	}
	return acc.Stats(), nil
}

// ReserveThreadID implements core.ThreadStore.
func (s *GormStore) ReserveThreadID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.reserved.reserve(), nil
}

// ReleaseThreadID implements core.ThreadStore.
func (s *GormStore) ReleaseThreadID(threadID string) { s.reserved.release(threadID) }

// Close implements core.ThreadStore.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}
