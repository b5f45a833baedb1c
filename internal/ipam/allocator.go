// Package ipam отвечает на вопрос «какой адрес свободен»: реконсилятор
// собирает занятые адреса из хранилища и живого состояния бэкенда,
// аллокатор выбирает первый свободный адрес пула по этому множеству.
package ipam

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/arstanbekov/wireguard-access/internal/models"
)

// Allocator выбирает свободные адреса из настроенного пула.
// Чистая функция от снимка занятых адресов: атомарность против
// конкурентных вызовов не гарантируется здесь, её обеспечивает отказ
// бэкенда принять дубликат плюс один повтор на уровне автомата доступа.
type Allocator struct {
	network *net.IPNet
}

// NewAllocator создаёт аллокатор для пула cidr (например, 10.10.10.0/24).
func NewAllocator(cidr string) (*Allocator, error) {
	const op = "ipam.NewAllocator"

	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if network.IP.To4() == nil {
		return nil, fmt.Errorf("%s: only IPv4 pools are supported", op)
	}
	return &Allocator{network: network}, nil
}

// NextFree возвращает первый свободный адрес пула в возрастающем порядке.
// Адрес сети, адрес шлюза (.1) и широковещательный адрес пропускаются.
// Если пул исчерпан — models.ErrCapacityExhausted.
func (a *Allocator) NextFree(used map[string]struct{}) (string, error) {
	const op = "ipam.NextFree"

	base := binary.BigEndian.Uint32(a.network.IP.To4())
	ones, bits := a.network.Mask.Size()
	size := uint32(1) << (bits - ones)

	// первые два адреса — сеть и шлюз, последний — broadcast
	for off := uint32(2); off < size-1; off++ {
		ip := make(net.IP, 4)
		binary.BigEndian.PutUint32(ip, base+off)
		addr := ip.String()
		if _, taken := used[addr]; !taken {
			return addr, nil
		}
	}
	return "", fmt.Errorf("%s: %w", op, models.ErrCapacityExhausted)
}

// Contains сообщает, входит ли адрес в пул.
func (a *Allocator) Contains(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && a.network.Contains(ip)
}
