package services

import (
	"log"
	"messenger/config"
)

// Debugf пишет отладочную строку, если в конфиге logs.level = debug
func Debugf(format string, args ...any) {
	if config.AppConfig == nil || config.AppConfig.Logs.Level != "debug" {
		return
	}
	log.Printf("DEBUG: "+format, args...)
}
