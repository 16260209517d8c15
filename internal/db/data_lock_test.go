package db

import (
	"testing"
	"time"
)

func TestDataLockCovers(t *testing.T) {
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	var nilLock *DataLock
	if nilLock.Covers(day) {
		t.Fatal("nil lock must not cover any date")
	}

	lock := &DataLock{UserID: 1, Enabled: true, LockDate: &day}
	if !lock.Covers(day) {
		t.Fatal("lock date itself must be covered")
	}
	if !lock.Covers(day.AddDate(0, 0, -30)) {
		t.Fatal("earlier dates must be covered")
	}
	if lock.Covers(day.AddDate(0, 0, 1)) {
		t.Fatal("later dates must not be covered")
	}

	disabled := &DataLock{UserID: 1, Enabled: false, LockDate: &day}
	if disabled.Covers(day) {
		t.Fatal("disabled lock must not cover any date")
	}

	noDate := &DataLock{UserID: 1, Enabled: true}
	if noDate.Covers(day) {
		t.Fatal("lock without date must not cover any date")
	}
}
