// Package model holds the gorm-backed record types the cache companion
// service persists. They are never touched by the core build driver.
package model

import "gorm.io/plugin/soft_delete"

// CacheEntry is one recorded "this command, given these inputs, produced
// this output" fact, keyed so a future build on any machine sharing the
// cache can ask "has anyone already done this" before re-running a rule.
type CacheEntry struct {
	ID int64 `json:"id" gorm:"primarykey"`

	// ParamsHash is the content hash of the entry's own identifying fields
	// (CommandHash, InputHash, OutputPath, OutputHash, plus every CacheDep)
	// and doubles as the blob's filename on disk.
	ParamsHash string `json:"paramsHash" gorm:"index:idx_params_hash,unique"`

	// OutputPath is the build-graph path the command produced, e.g. the
	// node path a driver would otherwise have to rebuild to get.
	OutputPath  string `json:"outputPath" gorm:"index:idx_output"`
	OutputHash  string `json:"outputHash"`
	CommandHash string `json:"commandHash" gorm:"index:idx_command_hash"`
	InputHash   string `json:"inputHash" gorm:"index:idx_input_hash"`

	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`

	// Deps lists every input file that fed this command, so a querying
	// driver can confirm none of them have since changed underneath it.
	Deps []*CacheDep `json:"deps" gorm:"foreignKey:PID;references:ID"`

	// Instance scopes entries to one cache namespace (e.g. one CI fleet),
	// matching the teacher's multi-tenant RBE log.
	Instance string `json:"instance"`

	CreatedAt       int64 `json:"createdAt"`
	LastAccess      int64 `json:"lastAccess"`
	ExpiredDuration int64 `json:"expiredDuration"`

	Deleted soft_delete.DeletedAt `gorm:"softDelete:flag;default:0"`
}

func (CacheEntry) TableName() string { return "cache_entry" }

// CacheDep is one of a CacheEntry's recorded inputs, linked back to its
// parent by PID the way gorm's belongs-to association expects.
type CacheDep struct {
	ID int64 `json:"id" gorm:"primarykey"`

	FilePath string `json:"filePath"`
	FileHash string `json:"fileHash"`

	// PID is the owning CacheEntry's ID.
	PID int64 `json:"pid" gorm:"index:idx_pid"`

	Deleted soft_delete.DeletedAt `gorm:"softDelete:flag;default:0"`
}

func (CacheDep) TableName() string { return "cache_dep" }
