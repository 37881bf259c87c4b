package main

import (
	"os"
	"time"

	"gorm.io/gorm"

	"nb/internal/model"
)

// saveEntry writes entry and its deps in one transaction, mirroring how a
// driver would record a build-log line and its deps-log record together.
func saveEntry(entry *model.CacheEntry) error {
	return db.Transaction(func(tx *gorm.DB) error {
		deps := entry.Deps
		entry.Deps = nil
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		for _, d := range deps {
			d.PID = entry.ID
		}
		if len(deps) > 0 {
			if err := tx.Create(&deps).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func entryExists(paramsHash string) (bool, error) {
	var cnt int64
	err := db.Model(&model.CacheEntry{}).Where("params_hash = ?", paramsHash).Count(&cnt).Error
	return cnt > 0, err
}

func touchLastAccess(paramsHash string) error {
	return db.Unscoped().Model(&model.CacheEntry{}).
		Where("params_hash = ?", paramsHash).
		Update("last_access", time.Now().Unix()).Error
}

// findCandidates returns, newest first, up to five cache entries that could
// stand in for the given rule invocation: same instance, same command, same
// inputs, same output path; os.ErrNotExist if there are none. A querying driver still has to compare its own
// current input hashes against the Deps it gets back before trusting one.
func findCandidates(instance, outputPath, commandHash, inputHash string) ([]*model.CacheEntry, error) {
	var entries []*model.CacheEntry
	err := db.Where(
		"instance = ? AND command_hash = ? AND input_hash = ? AND output_path = ?",
		instance, commandHash, inputHash, outputPath,
	).Order("created_at desc").Limit(5).Preload("Deps").Find(&entries).Error
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, os.ErrNotExist
	}
	return entries, nil
}

func expiredEntries(limit int) ([]*model.CacheEntry, error) {
	var entries []*model.CacheEntry
	now := time.Now().Unix()
	err := db.Where("last_access + expired_duration < ?", now).Limit(limit).Find(&entries).Error
	return entries, err
}

func deleteEntries(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return db.Delete(&model.CacheEntry{}, ids).Error
}
