package logger

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	Log      *logrus.Logger
	initOnce sync.Once
)

// Init инициализирует структурированный логгер.
func Init(level string) {
	Log = logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	// Используем JSON формат для production, text для development
	Log.SetFormatter(&logrus.JSONFormatter{})
}

// SetTextFormatter устанавливает текстовый формат логов (для development).
func SetTextFormatter() {
	if Log != nil {
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}

// Get возвращает глобальный логгер. Если Init не вызывался (тесты,
// утилиты), создаёт логгер с уровнем info.
func Get() *logrus.Logger {
	initOnce.Do(func() {
		if Log == nil {
			Init("info")
		}
	})
	return Log
}
