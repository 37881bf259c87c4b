package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// sweepConn is a second, low-level connection onto the same database file
// gorm owns, used only by the scheduled expiry sweep. Scanning for expired
// rows happens often enough, and touches little enough per row, that a
// prepared statement over raw columns is worth keeping alongside the gorm
// path rather than paying struct-scan overhead on every tick.
var sweepConn *sqlite.Conn
var findExpiredStmt *sqlite.Stmt

func openSweepConn(path string) error {
	var err error
	sweepConn, err = sqlite.OpenConn(path, sqlite.OpenReadWrite)
	if err != nil {
		return err
	}
	findExpiredStmt, err = sweepConn.Prepare(
		"SELECT `id`, `params_hash` FROM cache_entry " +
			"WHERE `deleted` = 0 AND `last_access` + `expired_duration` < $now ORDER BY id DESC LIMIT $limit;")
	return err
}

func closeSweepConn() error {
	if sweepConn == nil {
		return nil
	}
	return sweepConn.Close()
}

type expiredRow struct {
	id         int64
	paramsHash string
}

func findExpiredRaw(limit int64) ([]expiredRow, error) {
	defer findExpiredStmt.Reset()
	findExpiredStmt.SetInt64("$now", time.Now().Unix())
	findExpiredStmt.SetInt64("$limit", limit)

	var rows []expiredRow
	for {
		hasRow, err := findExpiredStmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		rows = append(rows, expiredRow{
			id:         findExpiredStmt.GetInt64("id"),
			paramsHash: findExpiredStmt.GetText("params_hash"),
		})
	}
	return rows, nil
}

func markDeletedRaw(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = strconv.FormatInt(id, 10)
	}
	query := fmt.Sprintf("UPDATE cache_entry SET `deleted` = 1 WHERE `id` IN (%s);", strings.Join(strs, ","))
	return sqlitex.ExecuteTransient(sweepConn, query, &sqlitex.ExecOptions{})
}
