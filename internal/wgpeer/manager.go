// Package wgpeer определяет контракт управления пирами WireGuard.
// Две взаимозаменяемые реализации — local (прямое управление таблицей
// пиров и конфигом интерфейса) и wgeasy (делегирование внешнему
// управляющему сервису) — выбираются при старте по конфигурации,
// поэтому вся некомпенсируемая логика каждой стратегии изолирована
// в её пакете, а автомат доступа от стратегии не зависит.
package wgpeer

import (
	"context"

	"github.com/arstanbekov/wireguard-access/internal/models"
)

// Manager создаёт и удаляет пиров на VPN-бэкенде.
type Manager interface {
	// CreatePeer регистрирует нового пира и возвращает готовый клиентский
	// конфиг. address — адрес, выбранный аллокатором; стратегия wgeasy
	// игнорирует его и использует адрес, назначенный сервисом.
	// Конфликт адресов отдаётся как models.ErrBackendRejected,
	// недоступность бэкенда — как models.ErrBackendUnavailable.
	CreatePeer(ctx context.Context, label, address string) (*models.Peer, error)

	// DeletePeer удаляет пира. Удаление уже отсутствующего пира — успех.
	DeletePeer(ctx context.Context, ref string) error

	// ListPeers возвращает живую таблицу пиров бэкенда.
	ListPeers(ctx context.Context) ([]models.PeerState, error)
}
