package config

import (
	"sync/atomic"

	"go.uber.org/zap"

	"reward_ledger/internal/logger"
)

// Holder publishes the current Economy. Readers always see a complete,
// validated snapshot; a failed reload keeps the previous one.
type Holder struct {
	path    string
	current atomic.Pointer[Economy]
}

func NewHolder(e *Economy) *Holder {
	h := &Holder{}
	h.current.Store(e)
	return h
}

// NewFileHolder loads path once and remembers it for Reload.
func NewFileHolder(path string) (*Holder, error) {
	e, err := LoadEconomy(path)
	if err != nil {
		return nil, err
	}
	h := NewHolder(e)
	h.path = path
	return h, nil
}

func (h *Holder) Current() *Economy {
	return h.current.Load()
}

func (h *Holder) Reload() error {
	if h.path == "" {
		return nil
	}
	e, err := LoadEconomy(h.path)
	if err != nil {
		logger.L.Error("economy reload failed, keeping previous config", zap.String("path", h.path), zap.Error(err))
		return err
	}
	h.current.Store(e)
	logger.L.Debug("economy config reloaded", zap.String("path", h.path))
	return nil
}
