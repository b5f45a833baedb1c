package local

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// confFile правит постоянный конфиг интерфейса (/etc/wireguard/wg0.conf):
// дописывает и убирает блоки [Peer], читает занятые адреса.
type confFile struct {
	path string
}

func newConfFile(path string) *confFile {
	return &confFile{path: path}
}

var allowedIPRe = regexp.MustCompile(`AllowedIPs\s*=\s*(\d+\.\d+\.\d+\.\d+)`)

// appendPeer дописывает блок [Peer] в конец конфига.
func (c *confFile) appendPeer(label, publicKey, address string) error {
	const op = "wgpeer.local.appendPeer"

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = f.Close()
	}()

	block := fmt.Sprintf("\n[Peer]\n# %s\nPublicKey = %s\nAllowedIPs = %s/32\n",
		label, publicKey, address)
	if _, err := f.WriteString(block); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// removePeer убирает блок [Peer] с данным публичным ключом.
// Отсутствие блока — успех.
func (c *confFile) removePeer(publicKey string) error {
	const op = "wgpeer.local.removePeer"

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	blocks := strings.Split(string(data), "[Peer]")
	if len(blocks) < 2 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimRight(blocks[0], "\n"))
	sb.WriteString("\n")
	for _, block := range blocks[1:] {
		if strings.Contains(block, publicKey) {
			continue
		}
		sb.WriteString("\n[Peer]")
		sb.WriteString(strings.TrimRight(block, "\n"))
		sb.WriteString("\n")
	}

	if err := os.WriteFile(c.path, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// addresses возвращает все адреса из строк AllowedIPs конфига.
func (c *confFile) addresses() ([]string, error) {
	const op = "wgpeer.local.addresses"

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var result []string
	for _, line := range strings.Split(string(data), "\n") {
		if m := allowedIPRe.FindStringSubmatch(line); m != nil {
			result = append(result, m[1])
		}
	}
	return result, nil
}
