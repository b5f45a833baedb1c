// Package local реализует стратегию прямого управления таблицей пиров:
// ключи генерируются на месте, пир регистрируется на живом интерфейсе
// через wg(8), затем дописывается в постоянный конфиг интерфейса, чтобы
// пережить перезапуск. Шаги не атомарны, поэтому порядок фиксирован:
// сначала живой интерфейс, потом конфиг; при отказе второго шага живая
// регистрация снимается до возврата ошибки — живое состояние не должно
// переживать постоянное.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/arstanbekov/wireguard-access/internal/config"
	"github.com/arstanbekov/wireguard-access/internal/lib/sl"
	"github.com/arstanbekov/wireguard-access/internal/lib/wgkey"
	"github.com/arstanbekov/wireguard-access/internal/models"
)

// Runner выполняет внешнюю команду и возвращает её stdout.
// Вынесен в интерфейс, чтобы тесты не требовали установленного wg.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

// Manager управляет пирами через wg(8) и постоянный конфиг интерфейса.
// Процесс — единственный владелец интерфейса, поэтому проверка занятости
// адреса и регистрация пира сериализуются мьютексом: wg set молча
// перехватывает allowed-ip у существующего пира, и без сериализации две
// одновременные выдачи могли бы получить один адрес.
type Manager struct {
	cfg  config.WireGuard
	run  Runner
	conf *confFile
	log  *slog.Logger

	mu sync.Mutex
}

// New создаёт менеджер локальной стратегии.
func New(cfg config.WireGuard, log *slog.Logger) *Manager {
	return &Manager{
		cfg:  cfg,
		run:  execRunner{},
		conf: newConfFile(cfg.ConfigPath),
		log:  log,
	}
}

// NewWithRunner — конструктор для тестов с подменённым исполнителем команд.
func NewWithRunner(cfg config.WireGuard, run Runner, log *slog.Logger) *Manager {
	return &Manager{
		cfg:  cfg,
		run:  run,
		conf: newConfFile(cfg.ConfigPath),
		log:  log,
	}
}

// CreatePeer генерирует ключи, регистрирует пира на живом интерфейсе с
// выбранным адресом и дописывает его в постоянный конфиг. Занятый адрес
// отдаётся как models.ErrBackendRejected, чтобы вызывающая сторона
// повторила выделение, а не прерывала операцию.
func (m *Manager) CreatePeer(ctx context.Context, label, address string) (*models.Peer, error) {
	const op = "wgpeer.local.CreatePeer"

	keys, err := wgkey.Generate()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, models.ErrKeyGenFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	peers, err := m.ListPeers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, p := range peers {
		if p.Address == address {
			return nil, fmt.Errorf("%s: address %s: %w", op, address, models.ErrBackendRejected)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	defer cancel()

	// Шаг 1: живой интерфейс.
	_, err = m.run.Run(ctx, "wg", "set", m.cfg.Interface,
		"peer", keys.PublicKey, "allowed-ips", address+"/32")
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, models.ErrBackendUnavailable, err)
	}

	// Шаг 2: постоянный конфиг. При отказе снимаем живую регистрацию.
	if err := m.conf.appendPeer(label, keys.PublicKey, address); err != nil {
		m.removeLivePeer(keys.PublicKey)
		return nil, fmt.Errorf("%s: persist peer: %w", op, err)
	}

	return &models.Peer{
		Ref:       keys.PublicKey,
		PublicKey: keys.PublicKey,
		Address:   address,
		Profile:   renderProfile(keys.PrivateKey, address, m.cfg),
	}, nil
}

// DeletePeer снимает пира с живого интерфейса и убирает его из постоянного
// конфига. Отсутствующий пир — успех: wg set ... remove на неизвестном
// ключе завершается без ошибки, а removePeer пропускает отсутствующий блок.
func (m *Manager) DeletePeer(ctx context.Context, ref string) error {
	const op = "wgpeer.local.DeletePeer"

	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	defer cancel()

	if _, err := m.run.Run(ctx, "wg", "set", m.cfg.Interface, "peer", ref, "remove"); err != nil {
		return fmt.Errorf("%s: %w: %w", op, models.ErrBackendUnavailable, err)
	}
	if err := m.conf.removePeer(ref); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListPeers читает живую таблицу пиров через wg show ... allowed-ips.
func (m *Manager) ListPeers(ctx context.Context) ([]models.PeerState, error) {
	const op = "wgpeer.local.ListPeers"

	ctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	defer cancel()

	out, err := m.run.Run(ctx, "wg", "show", m.cfg.Interface, "allowed-ips")
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, models.ErrBackendUnavailable, err)
	}

	var result []models.PeerState
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		for _, ipRange := range strings.Split(parts[1], ",") {
			addr := strings.SplitN(strings.TrimSpace(ipRange), "/", 2)[0]
			if addr == "" || addr == "(none)" {
				continue
			}
			result = append(result, models.PeerState{
				Ref:       parts[0],
				PublicKey: parts[0],
				Address:   addr,
			})
		}
	}
	return result, nil
}

// PersistedAddresses возвращает адреса из постоянного конфига интерфейса.
// Используется реконсилятором: после сбоя между записью конфига и коммитом
// в хранилище адрес может числиться только здесь.
func (m *Manager) PersistedAddresses() ([]string, error) {
	return m.conf.addresses()
}

// removeLivePeer — компенсирующее удаление живой регистрации. Выполняется
// на собственном контексте: отмена исходного запроса не должна оставить
// пира-сироту на интерфейсе.
func (m *Manager) removeLivePeer(publicKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CommandTimeout)
	defer cancel()

	if _, err := m.run.Run(ctx, "wg", "set", m.cfg.Interface, "peer", publicKey, "remove"); err != nil {
		m.log.Error("failed to rollback live peer registration",
			slog.String("public_key", publicKey), sl.Err(err))
	}
}

