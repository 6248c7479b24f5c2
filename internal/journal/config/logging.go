package config

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogWriter returns the destination for component loggers: stderr, or a
// size-rotated file when Log.File is set.
func (c *Config) LogWriter() io.Writer {
	return NewLogWriter(c.Log)
}

// NewLogWriter builds the writer described by l.
func NewLogWriter(l Log) io.Writer {
	if l.File == "" {
		return os.Stderr
	}
	size := l.MaxSizeMB
	if size <= 0 {
		size = defaultLogMaxSize
	}
	backups := l.MaxBackups
	if backups < 0 {
		backups = 0
	}
	return &lumberjack.Logger{
		Filename:   l.File,
		MaxSize:    size,
		MaxBackups: backups,
	}
}

// Logger returns a logger for component writing to w.
func Logger(w io.Writer, component string) *log.Logger {
	return log.New(w, "["+component+"] ", log.LstdFlags)
}
