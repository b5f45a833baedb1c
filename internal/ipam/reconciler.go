package ipam

import (
	"context"
	"log/slog"

	"github.com/arstanbekov/wireguard-access/internal/lib/sl"
	"github.com/arstanbekov/wireguard-access/internal/models"
)

// Store отдаёт адреса, занятые по данным хранилища.
type Store interface {
	UsedAddresses(ctx context.Context) ([]string, error)
}

// LiveSource отдаёт живую таблицу пиров бэкенда.
type LiveSource interface {
	ListPeers(ctx context.Context) ([]models.PeerState, error)
}

// PersistedSource отдаёт адреса из постоянного конфига бэкенда.
// Реализуется только локальной стратегией.
type PersistedSource interface {
	PersistedAddresses() ([]string, error)
}

// Reconciler сводит занятые адреса из всех источников в одно множество.
// После сбоя между записью на бэкенд и коммитом в хранилище стороны могут
// расходиться в обе стороны, поэтому выделение не должно конфликтовать
// ни с одной из них. Отказ живого опроса деградирует до данных хранилища
// с предупреждением: доступная ёмкость важнее строгой полноты, выдача
// не блокируется.
type Reconciler struct {
	store Store
	live  LiveSource
	log   *slog.Logger
}

// NewReconciler создаёт реконсилятор.
func NewReconciler(store Store, live LiveSource, log *slog.Logger) *Reconciler {
	return &Reconciler{
		store: store,
		live:  live,
		log:   log,
	}
}

// UsedAddresses возвращает объединение занятых адресов: хранилище,
// живая таблица пиров и, для локальной стратегии, постоянный конфиг.
func (r *Reconciler) UsedAddresses(ctx context.Context) (map[string]struct{}, error) {
	const op = "ipam.UsedAddresses"

	used := make(map[string]struct{})

	stored, err := r.store.UsedAddresses(ctx)
	if err != nil {
		return nil, err
	}
	for _, addr := range stored {
		used[addr] = struct{}{}
	}

	peers, err := r.live.ListPeers(ctx)
	if err != nil {
		r.log.Warn("live peer query failed, using persisted state only",
			slog.String("op", op), sl.Err(err))
	} else {
		for _, p := range peers {
			if p.Address != "" {
				used[p.Address] = struct{}{}
			}
		}
	}

	if persisted, ok := r.live.(PersistedSource); ok {
		addrs, err := persisted.PersistedAddresses()
		if err != nil {
			r.log.Warn("backend config check failed", slog.String("op", op), sl.Err(err))
		} else {
			for _, addr := range addrs {
				used[addr] = struct{}{}
			}
		}
	}

	return used, nil
}
