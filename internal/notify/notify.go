// Package notify доставляет события леджера пользователям.
// Доставка асинхронная, ошибки только логируются и никогда не влияют на леджер.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/solutionners/marketplace-backend/internal/goroutine"
	"github.com/solutionners/marketplace-backend/internal/logger"
)

// Message событие для пользователя.
type Message struct {
	UserID  uuid.UUID      `json:"user_id"`
	Email   string         `json:"email,omitempty"`
	Event   string         `json:"event"`
	Subject string         `json:"subject"`
	Body    string         `json:"body"`
	Data    map[string]any `json:"data,omitempty"`
}

// Notifier fire-and-forget отправка. Реализации не возвращают ошибок.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// Sink один канал доставки.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// FailureObserver получает имя канала, доставка в который не удалась.
type FailureObserver interface {
	ObserveNotifyFailure(sink string)
}

// Nop ничего не отправляет.
type Nop struct{}

func (Nop) Notify(context.Context, Message) {}

// Dispatcher рассылает сообщение по всем каналам в отдельных горутинах.
type Dispatcher struct {
	sinks    []Sink
	timeout  time.Duration
	observer FailureObserver
	wg       sync.WaitGroup
}

// NewDispatcher создаёт диспетчер. timeout ограничивает одну доставку.
func NewDispatcher(timeout time.Duration, observer FailureObserver, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{sinks: sinks, timeout: timeout, observer: observer}
}

// Notify не блокирует вызывающего. Контекст запроса не используется для
// доставки: отмена запроса не должна отменять письмо.
func (d *Dispatcher) Notify(ctx context.Context, msg Message) {
	base := context.WithoutCancel(ctx)
	for _, sink := range d.sinks {
		s := sink
		d.wg.Add(1)
		goroutine.SafeGo(func() {
			defer d.wg.Done()
			dctx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()
			if err := s.Deliver(dctx, msg); err != nil {
				logger.Get().WithError(err).WithFields(logrus.Fields{
					"sink":    s.Name(),
					"event":   msg.Event,
					"user_id": msg.UserID,
				}).Warn("notify: доставка не удалась")
				if d.observer != nil {
					d.observer.ObserveNotifyFailure(s.Name())
				}
			}
		})
	}
}

// Wait дожидается завершения начатых доставок.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
