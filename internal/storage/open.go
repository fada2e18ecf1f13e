package storage

import (
	"errors"
	"strings"

	logx "tickbot/pkg/logx"
)

// Open initializes the configured store and creates its tables if absent.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(driver, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
