package main

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"nb/internal/model"
)

var db *gorm.DB

func openDB(path string) error {
	var err error
	db, err = gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(&model.CacheEntry{}); err != nil {
		return err
	}
	return db.AutoMigrate(&model.CacheDep{})
}
