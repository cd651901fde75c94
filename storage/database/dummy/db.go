package dummydb

import (
	"sync"

	"github.com/trezcool/karibu/core"
	"github.com/trezcool/karibu/core/progress"
)

type (
	DB struct {
		progress *progressTable
	}

	progressTable struct {
		sync.RWMutex
		records       map[string]*progress.Record       // userID
		certificates  map[string]*progress.Certificate  // userID + "\x00" + marker
		notifications map[string][]*core.Notification   // userID
	}
)

func Open() (*DB, error) {
	db := &DB{
		progress: &progressTable{
			records:       make(map[string]*progress.Record),
			certificates:  make(map[string]*progress.Certificate),
			notifications: make(map[string][]*core.Notification),
		},
	}
	return db, nil
}
