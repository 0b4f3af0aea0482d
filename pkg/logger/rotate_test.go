package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	writer, err := newRotatingWriter(path, 1, 2, 30)
	if err != nil {
		t.Fatalf("new rotating writer: %v", err)
	}
	defer writer.Close()
	// 压低阈值，让第二次写入触发滚动。
	writer.maxSize = 32

	line := []byte(strings.Repeat("a", 24) + "\n")
	for i := 0; i < 3; i++ {
		if _, err := writer.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("active log must exist after rotation: %v", err)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("rotated backup must exist: %v", err)
	}
	// 滚动只重命名，历史内容不能丢。
	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if len(backup) == 0 {
		t.Fatal("rotated backup must keep the previous entries")
	}
}

func TestRotatingWriterKeepsAtMostMaxBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	writer, err := newRotatingWriter(path, 1, 2, 30)
	if err != nil {
		t.Fatalf("new rotating writer: %v", err)
	}
	defer writer.Close()
	writer.maxSize = 8

	for i := 0; i < 6; i++ {
		if _, err := writer.Write([]byte(fmt.Sprintf("entry-%d\n", i))); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	if _, err := os.Stat(path + ".3"); err == nil {
		t.Fatal("backups beyond maxBackups must not pile up")
	}
}
