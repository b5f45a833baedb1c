// Package wgkey генерирует ключевые пары WireGuard (Curve25519)
// в формате base64, который понимают wg(8) и клиентские приложения.
package wgkey

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPair — приватный и публичный ключи в base64.
type KeyPair struct {
	PrivateKey string
	PublicKey  string
}

// Generate создаёт новую ключевую пару. Приватный ключ приводится
// к виду, требуемому Curve25519 (clamping), как это делает wg genkey.
func Generate() (*KeyPair, error) {
	const op = "wgkey.Generate"

	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &KeyPair{
		PrivateKey: base64.StdEncoding.EncodeToString(priv[:]),
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
	}, nil
}
