package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu       sync.RWMutex
	instance *zap.Logger
)

// Init construye el logger de proceso. Llamadas posteriores lo reemplazan,
// para que el CLI pueda re-inicializar después de leer el config.
func Init(cfg Config) {
	l := Build(cfg)
	mu.Lock()
	prev := instance
	instance = l
	mu.Unlock()
	if prev != nil {
		_ = prev.Sync()
	}
}

// L retorna el logger de proceso. Si Init no fue llamado, usa dev/info.
func L() *zap.Logger {
	mu.RLock()
	l := instance
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(Config{Env: "dev", Level: "info"})
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// Named retorna un logger con nombre de componente.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync flushea buffers pendientes.
func Sync() error {
	mu.RLock()
	l := instance
	mu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Sync()
}
