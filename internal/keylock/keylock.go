// Пакет keylock — блокировки по ключу с подсчётом ссылок.
//
// Запись блокировки существует, пока её держат или ждут; после
// последнего Unlock она удаляется из карты. Ожидание прерывается
// отменой контекста.
package keylock

import (
	"context"
	"sync"
)

// entry — блокировка одного ключа. Канал ёмкостью 1: занят — значит захвачен.
type entry struct {
	ch   chan struct{}
	refs int
}

// Locker — набор блокировок по строковому ключу.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New создаёт пустой Locker.
func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock захватывает блокировку ключа. Возвращает функцию освобождения;
// повторный вызов этой функции ничего не делает.
// При отмене ctx до захвата возвращает ctx.Err().
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

// Len возвращает количество ключей, которые сейчас держат или ждут.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// release уменьшает счётчик ссылок и удаляет запись без ссылок.
func (l *Locker) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
