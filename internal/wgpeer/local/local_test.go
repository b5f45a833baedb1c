package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arstanbekov/wireguard-access/internal/config"
	"github.com/arstanbekov/wireguard-access/internal/models"
)

// fakeRunner записывает выполненные команды и отдаёт подготовленные ответы.
type fakeRunner struct {
	calls   [][]string
	outputs map[string]string
	errs    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs: make(map[string]string),
		errs:    make(map[string]error),
	}
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	key := strings.Join(call, " ")
	for prefix, err := range f.errs {
		if strings.HasPrefix(key, prefix) {
			return "", err
		}
	}
	for prefix, out := range f.outputs {
		if strings.HasPrefix(key, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (f *fakeRunner) commandsWithPrefix(prefix string) int {
	count := 0
	for _, call := range f.calls {
		if strings.HasPrefix(strings.Join(call, " "), prefix) {
			count++
		}
	}
	return count
}

// statefulRunner эмулирует живую таблицу пиров: wg set добавляет запись,
// wg show отдаёт накопленное состояние. Пауза между чтением таблицы и
// возвратом растягивает окно между проверкой занятости и регистрацией.
type statefulRunner struct {
	mu    sync.Mutex
	addrs map[string]string
}

func newStatefulRunner() *statefulRunner {
	return &statefulRunner{addrs: make(map[string]string)}
}

func (s *statefulRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	switch {
	case strings.HasPrefix(cmd, "wg show"):
		s.mu.Lock()
		var b strings.Builder
		for pub, addr := range s.addrs {
			fmt.Fprintf(&b, "%s\t%s/32\n", pub, addr)
		}
		s.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return b.String(), nil
	case strings.HasPrefix(cmd, "wg set") && len(args) == 6 && args[4] == "allowed-ips":
		s.mu.Lock()
		s.addrs[args[3]] = strings.TrimSuffix(args[5], "/32")
		s.mu.Unlock()
	}
	return "", nil
}

func (s *statefulRunner) registeredAddresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, addr := range s.addrs {
		out = append(out, addr)
	}
	return out
}

func testConfig(t *testing.T) config.WireGuard {
	return config.WireGuard{
		Interface:       "wg0",
		ConfigPath:      filepath.Join(t.TempDir(), "wg0.conf"),
		ClientNetwork:   "10.10.10.0/24",
		ServerPublicKey: "serverpub",
		ServerEndpoint:  "vpn.example.com:51820",
		ClientDNS:       "8.8.8.8, 1.1.1.1",
		Keepalive:       25,
		CommandTimeout:  5 * time.Second,
	}
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestManager_CreatePeer(t *testing.T) {
	t.Run("registers live peer and persists config block", func(t *testing.T) {
		cfg := testConfig(t)
		run := newFakeRunner()
		m := NewWithRunner(cfg, run, newNoopLogger())

		peer, err := m.CreatePeer(context.Background(), "trial_42_abc", "10.10.10.3")
		require.NoError(t, err)

		assert.NotEmpty(t, peer.PublicKey)
		assert.Equal(t, peer.PublicKey, peer.Ref)
		assert.Equal(t, "10.10.10.3", peer.Address)

		assert.Contains(t, peer.Profile, "[Interface]")
		assert.Contains(t, peer.Profile, "Address = 10.10.10.3/32")
		assert.Contains(t, peer.Profile, "PublicKey = serverpub")
		assert.Contains(t, peer.Profile, "Endpoint = vpn.example.com:51820")
		assert.Contains(t, peer.Profile, "AllowedIPs = 0.0.0.0/0")
		assert.Contains(t, peer.Profile, "PersistentKeepalive = 25")

		assert.Equal(t, 1, run.commandsWithPrefix("wg set wg0 peer "+peer.PublicKey+" allowed-ips 10.10.10.3/32"))

		data, err := os.ReadFile(cfg.ConfigPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "[Peer]")
		assert.Contains(t, string(data), "# trial_42_abc")
		assert.Contains(t, string(data), "PublicKey = "+peer.PublicKey)
		assert.Contains(t, string(data), "AllowedIPs = 10.10.10.3/32")
	})

	t.Run("occupied address is rejected without touching the interface", func(t *testing.T) {
		cfg := testConfig(t)
		run := newFakeRunner()
		run.outputs["wg show wg0 allowed-ips"] = "pubX\t10.10.10.3/32\n"
		m := NewWithRunner(cfg, run, newNoopLogger())

		_, err := m.CreatePeer(context.Background(), "trial_42_abc", "10.10.10.3")
		assert.ErrorIs(t, err, models.ErrBackendRejected)
		assert.Equal(t, 0, run.commandsWithPrefix("wg set"))
	})

	t.Run("concurrent grants for one address yield a single peer", func(t *testing.T) {
		cfg := testConfig(t)
		run := newStatefulRunner()
		m := NewWithRunner(cfg, run, newNoopLogger())

		const workers = 2
		errs := make(chan error, workers)
		var group sync.WaitGroup
		for i := 0; i < workers; i++ {
			group.Add(1)
			go func(label string) {
				defer group.Done()
				_, err := m.CreatePeer(context.Background(), label, "10.10.10.2")
				errs <- err
			}(fmt.Sprintf("trial_%d_x", i))
		}
		group.Wait()
		close(errs)

		var granted, rejected int
		for err := range errs {
			switch {
			case err == nil:
				granted++
			case errors.Is(err, models.ErrBackendRejected):
				rejected++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, granted)
		assert.Equal(t, 1, rejected)
		assert.Equal(t, []string{"10.10.10.2"}, run.registeredAddresses())
	})

	t.Run("wg failure reports backend unavailable", func(t *testing.T) {
		cfg := testConfig(t)
		run := newFakeRunner()
		run.errs["wg set"] = errors.New("exit status 1")
		m := NewWithRunner(cfg, run, newNoopLogger())

		_, err := m.CreatePeer(context.Background(), "trial_42_abc", "10.10.10.3")
		assert.ErrorIs(t, err, models.ErrBackendUnavailable)

		_, statErr := os.Stat(cfg.ConfigPath)
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestManager_DeletePeer(t *testing.T) {
	t.Run("removes live registration and config block", func(t *testing.T) {
		cfg := testConfig(t)
		run := newFakeRunner()
		m := NewWithRunner(cfg, run, newNoopLogger())

		peer, err := m.CreatePeer(context.Background(), "trial_42_abc", "10.10.10.3")
		require.NoError(t, err)
		other, err := m.CreatePeer(context.Background(), "user_43_def", "10.10.10.4")
		require.NoError(t, err)

		require.NoError(t, m.DeletePeer(context.Background(), peer.Ref))

		data, err := os.ReadFile(cfg.ConfigPath)
		require.NoError(t, err)
		assert.NotContains(t, string(data), peer.PublicKey)
		assert.Contains(t, string(data), other.PublicKey)
		assert.Equal(t, 1, run.commandsWithPrefix("wg set wg0 peer "+peer.Ref+" remove"))
	})

	t.Run("unknown peer is not an error", func(t *testing.T) {
		cfg := testConfig(t)
		m := NewWithRunner(cfg, newFakeRunner(), newNoopLogger())

		assert.NoError(t, m.DeletePeer(context.Background(), "unknown-key"))
	})
}

func TestManager_ListPeers(t *testing.T) {
	cfg := testConfig(t)
	run := newFakeRunner()
	run.outputs["wg show wg0 allowed-ips"] = "pubA\t10.10.10.2/32\npubB\t10.10.10.5/32,fd00::5/128\npubC\t(none)\n"
	m := NewWithRunner(cfg, run, newNoopLogger())

	peers, err := m.ListPeers(context.Background())
	require.NoError(t, err)

	addrs := make(map[string]string)
	for _, p := range peers {
		addrs[p.Address] = p.Ref
	}
	assert.Equal(t, "pubA", addrs["10.10.10.2"])
	assert.Equal(t, "pubB", addrs["10.10.10.5"])
	assert.NotContains(t, addrs, "(none)")
}

func TestManager_PersistedAddresses(t *testing.T) {
	cfg := testConfig(t)
	run := newFakeRunner()
	m := NewWithRunner(cfg, run, newNoopLogger())

	_, err := m.CreatePeer(context.Background(), "trial_42_abc", "10.10.10.3")
	require.NoError(t, err)
	_, err = m.CreatePeer(context.Background(), "user_43_def", "10.10.10.7")
	require.NoError(t, err)

	addrs, err := m.PersistedAddresses()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"10.10.10.3", "10.10.10.7"}, addrs)
}

func TestManager_PersistedAddresses_NoFile(t *testing.T) {
	cfg := testConfig(t)
	m := NewWithRunner(cfg, newFakeRunner(), newNoopLogger())

	addrs, err := m.PersistedAddresses()
	require.NoError(t, err)
	assert.Empty(t, addrs)
}
