package db

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

func bufferedGormLogger(slow time.Duration) (gormlogger.Interface, *bytes.Buffer) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.DebugLevel, Output: &buf})
	return newGormLogger(logg, slow), &buf
}

func TestGormLoggerSkipsFastAndNotFound(t *testing.T) {
	l, buf := bufferedGormLogger(time.Second)
	sql := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(context.Background(), time.Now(), sql, nil)
	l.Trace(context.Background(), time.Now(), sql, gorm.ErrRecordNotFound)

	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %s", buf.String())
	}
}

func TestGormLoggerReportsSlowAndFailed(t *testing.T) {
	l, buf := bufferedGormLogger(10 * time.Millisecond)
	sql := func() (string, int64) { return "UPDATE payments SET status = 'completed'", 0 }

	l.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	if !bytes.Contains(buf.Bytes(), []byte("slow sql statement")) || !bytes.Contains(buf.Bytes(), []byte("UPDATE payments")) {
		t.Fatalf("expected slow statement log, got %s", buf.String())
	}

	buf.Reset()
	l.Trace(context.Background(), time.Now(), sql, errors.New("deadlock detected"))
	if !bytes.Contains(buf.Bytes(), []byte("deadlock detected")) {
		t.Fatalf("expected failure log, got %s", buf.String())
	}
}

func TestGormLoggerSilentMode(t *testing.T) {
	l, buf := bufferedGormLogger(time.Nanosecond)
	l = l.LogMode(gormlogger.Silent)

	l.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) { return "SELECT 1", 1 }, errors.New("x"))

	if buf.Len() != 0 {
		t.Fatalf("silent mode must not log, got %s", buf.String())
	}
}
