package app

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/EgorLis/my-media/internal/config"
)

// newBaseLogger: stdout, при LOG_FILE — ещё и файл с ротацией по размеру.
// Возвращает closer для файла (nil, если файла нет).
func newBaseLogger(cfg *config.Config, stdout io.Writer) (*log.Logger, io.Closer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if cfg.LogFile == "" {
		return log.New(stdout, "[app] ", log.LstdFlags), nil
	}
	file := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB, // megabytes
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays, // days
		Compress:   true,
	}
	return log.New(io.MultiWriter(stdout, file), "[app] ", log.LstdFlags), file
}

// sub — логгер компонента с вложенным префиксом
func sub(base *log.Logger, name string) *log.Logger {
	return log.New(base.Writer(), base.Prefix()+"["+name+"] ", base.Flags())
}
