package service

import (
	"log"
	"time"

	"github.com/yourusername/bingo-api/internal/game"
)

// CleanupService периодически сносит заброшенные комнаты. Комната считается
// заброшенной после idleTTL без активности, если она ждет старта, завершена
// или все из нее отключились; идущая игра с живыми соединениями не сносится.
type CleanupService struct {
	engine   *game.Engine
	interval time.Duration
	idleTTL  time.Duration
	done     chan struct{}
}

// NewCleanupService создает новый сервис уборки
func NewCleanupService(engine *game.Engine, interval, idleTTL time.Duration) *CleanupService {
	return &CleanupService{
		engine:   engine,
		interval: interval,
		idleTTL:  idleTTL,
		done:     make(chan struct{}),
	}
}

// Start запускает фоновую горутину уборки
func (s *CleanupService) Start() {
	log.Printf("[CleanupService] Уборщик запущен: интервал %v, TTL простоя %v", s.interval, s.idleTTL)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := s.engine.SweepIdle(s.idleTTL); removed > 0 {
					log.Printf("[CleanupService] Убрано комнат: %d, осталось: %d", removed, s.engine.Store().Len())
				}
			case <-s.done:
				log.Println("[CleanupService] Уборщик остановлен")
				return
			}
		}
	}()
}

// Stop останавливает уборщика
func (s *CleanupService) Stop() {
	close(s.done)
}
