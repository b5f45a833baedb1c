// Package models содержит доменные структуры сервиса VPN-доступа:
// пользователей, пробные конфиги, платежи и результаты выдачи доступа.
// Структуры используются в бизнес-логике и при работе с хранилищем.
package models

import "time"

// User представляет пользователя сервиса. Запись создаётся при первом
// обращении и никогда не удаляется: при отзыве доступа поля подписки
// очищаются, а сама строка остаётся для аудита.
type User struct {
	UserID          int64      // Внешний идентификатор пользователя (telegram id)
	Username        string     // Имя пользователя (опционально)
	FirstName       string     // Отображаемое имя (опционально)
	SubscriptionEnd *time.Time // Дата окончания оплаченной подписки, nil — подписки нет
	AssignedAddress *string    // Выданный клиентский адрес, nil — адрес не выдан
	Profile         *string    // Текст клиентского конфига WireGuard
	PeerRef         *string    // Идентификатор пира на VPN-бэкенде
}

// HasActiveSubscription сообщает, действует ли подписка пользователя в момент now.
func (u *User) HasActiveSubscription(now time.Time) bool {
	return u.SubscriptionEnd != nil && u.SubscriptionEnd.After(now)
}

// TrialGrant представляет временный конфиг, выданный до оплаты.
// У пользователя может быть не больше одной активной записи —
// это гарантирует частичный уникальный индекс в хранилище.
type TrialGrant struct {
	UserID          int64     // Пользователь, которому выдан конфиг
	Profile         string    // Текст клиентского конфига
	AssignedAddress string    // Выданный клиентский адрес
	PeerRef         string    // Идентификатор пира на VPN-бэкенде
	CreatedAt       time.Time // Время выдачи
	ExpiresAt       time.Time // Время истечения (фиксированный TTL от выдачи)
	Active          bool      // Флаг активности
}

// Payment представляет платёж пользователя. Записи только добавляются,
// единственное разрешённое изменение — переход pending -> completed.
type Payment struct {
	OrderID   string    // Уникальный идентификатор заказа
	UserID    int64     // Пользователь, оплативший заказ
	Amount    float64   // Сумма
	Currency  string    // Валюта
	Gateway   string    // Платёжная система (Freekassa, CryptoCloud)
	Status    string    // pending или completed
	CreatedAt time.Time // Время создания
}

// Статусы платежа.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
)

// Peer описывает созданного на VPN-бэкенде пира вместе с готовым
// клиентским конфигом.
type Peer struct {
	Ref       string // Идентификатор, по которому пира можно удалить
	PublicKey string // Публичный ключ пира
	Address   string // Клиентский адрес (может назначаться бэкендом)
	Profile   string // Текст клиентского конфига
}

// PeerState описывает пира из живой таблицы бэкенда. Используется
// реконсилятором для вычисления занятых адресов.
type PeerState struct {
	Ref       string
	PublicKey string
	Address   string
}

// GrantResult — итог выдачи доступа, возвращаемый вызывающему коллаборатору
// (мессенджер-фронтенду) для доставки пользователю.
type GrantResult struct {
	Profile    string        // Текст конфига для импорта в клиент WireGuard
	Address    string        // Выданный адрес
	ExpiresAt  time.Time     // Время истечения доступа
	TTL        time.Duration // Оставшееся время действия (для пробных конфигов)
	IsExisting bool          // true, если возвращён уже выданный ранее конфиг
}

// SweepResult — итог одного прохода уборки истёкших грантов.
type SweepResult struct {
	TrialsRevoked        int           // Сколько пробных конфигов отозвано
	SubscriptionsRevoked int           // Сколько подписок отозвано
	Events               []NotifyEvent // События для внешнего мессенджера
}

// Виды событий уборки.
const (
	NotifyTrialExpired        = "trial.expired"
	NotifySubscriptionExpired = "subscription.expired"
)

// NotifyEvent — уведомление о том, что у пользователя истёк доступ.
// Публикуется в очередь и доставляется внешним ботом.
type NotifyEvent struct {
	UserID    int64     `json:"user_id"`
	Kind      string    `json:"kind"` // trial.expired или subscription.expired
	ExpiredAt time.Time `json:"expired_at"`
}

// AccessStatus — агрегированное состояние доступа пользователя
// для read-only эндпоинта статуса.
type AccessStatus struct {
	UserID          int64      `json:"user_id"`
	SubscriptionEnd *time.Time `json:"subscription_end,omitempty"`
	TrialExpiresAt  *time.Time `json:"trial_expires_at,omitempty"`
	AssignedAddress *string    `json:"assigned_address,omitempty"`
	HasAccess       bool       `json:"has_access"`
}
