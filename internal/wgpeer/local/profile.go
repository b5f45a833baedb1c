package local

import (
	"fmt"
	"strings"

	"github.com/arstanbekov/wireguard-access/internal/config"
)

// renderProfile собирает клиентский конфиг WireGuard. Порядок полей и
// переводы строк — контракт совместимости с клиентскими приложениями,
// текст должен воспроизводиться байт в байт.
func renderProfile(privateKey, address string, cfg config.WireGuard) string {
	var sb strings.Builder
	sb.WriteString("[Interface]\n")
	fmt.Fprintf(&sb, "PrivateKey = %s\n", privateKey)
	fmt.Fprintf(&sb, "Address = %s/32\n", address)
	fmt.Fprintf(&sb, "DNS = %s\n", cfg.ClientDNS)
	sb.WriteString("\n[Peer]\n")
	fmt.Fprintf(&sb, "PublicKey = %s\n", cfg.ServerPublicKey)
	fmt.Fprintf(&sb, "Endpoint = %s\n", cfg.ServerEndpoint)
	sb.WriteString("AllowedIPs = 0.0.0.0/0\n")
	fmt.Fprintf(&sb, "PersistentKeepalive = %d\n", cfg.Keepalive)
	return sb.String()
}
