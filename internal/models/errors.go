package models

import "errors"

// Классификация отказов ядра. Все ошибки бэкенда и хранилища перед выходом
// за границу ядра оборачиваются с идентификатором пользователя или заказа,
// чтобы вызывающая сторона могла сопоставить отказ с журналом аудита.
var (
	// ErrCapacityExhausted — в пуле не осталось свободных адресов.
	// Не ретраится, требует вмешательства оператора.
	ErrCapacityExhausted = errors.New("address pool exhausted")

	// ErrBackendUnavailable — VPN-бэкенд недоступен или не ответил вовремя.
	ErrBackendUnavailable = errors.New("vpn backend unavailable")

	// ErrBackendRejected — бэкенд отверг пира (дубликат адреса или ключа).
	// Вызывающая сторона делает одну повторную попытку с новым адресом.
	ErrBackendRejected = errors.New("vpn backend rejected peer")

	// ErrPersistenceConflict — гонка конкурирующих записей в хранилище,
	// не разрешившаяся за отведённое число повторов.
	ErrPersistenceConflict = errors.New("persistence conflict")

	// ErrKeyGenFailed — не удалось сгенерировать ключевую пару.
	// Фатально для запроса, не ретраится.
	ErrKeyGenFailed = errors.New("key generation failed")

	// ErrNotFound — запись отсутствует в хранилище.
	ErrNotFound = errors.New("not found")
)
