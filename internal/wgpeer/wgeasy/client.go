// Package wgeasy реализует стратегию делегирования управляющему сервису
// WG-Easy: сервис сам назначает адрес пиру и отдаёт готовый клиентский
// конфиг, аллокатор адресов при этой стратегии носит совещательный
// характер. Сессионная аутентификация повторяется при протухании cookie.
package wgeasy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/arstanbekov/wireguard-access/internal/config"
	"github.com/arstanbekov/wireguard-access/internal/lib/sl"
	"github.com/arstanbekov/wireguard-access/internal/models"
)

// Client — HTTP-клиент WG-Easy API, реализует wgpeer.Manager.
type Client struct {
	baseURL      string
	password     string
	findRetries  int
	findInterval time.Duration
	httpClient   *http.Client
	log          *slog.Logger

	mu            sync.Mutex
	authenticated bool
}

// clientInfo — описание клиента в ответах WG-Easy.
type clientInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
	Enabled   bool   `json:"enabled"`
}

// New создаёт клиента WG-Easy.
func New(cfg config.WGEasy, log *slog.Logger) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		password:     cfg.PasswordWG,
		findRetries:  cfg.FindRetries,
		findInterval: cfg.FindInterval,
		httpClient: &http.Client{
			Timeout: cfg.TimeoutWG,
			Jar:     jar,
		},
		log: log,
	}
}

// CreatePeer создаёт клиента в WG-Easy и скачивает готовый конфиг.
// Пустое тело при статусе 2xx означает, что сервис ещё готовит клиента:
// тогда клиент ищется по имени с ограниченным числом повторов — повторный
// вызов создания привёл бы к дубликату под тем же именем. Если конфиг
// скачать не удалось, только что созданный клиент удаляется.
func (c *Client) CreatePeer(ctx context.Context, label, address string) (*models.Peer, error) {
	const op = "wgpeer.wgeasy.CreatePeer"
	_ = address // адрес назначает WG-Easy

	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	info, err := c.createClient(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("%s: label %s: %w", op, label, err)
	}

	ref := info.ID
	if ref == "" {
		ref = info.PublicKey
	}
	if ref == "" {
		ref = label
	}

	profile, err := c.clientConfig(ctx, ref)
	if err != nil {
		// ID из ответа мог быть неполным — пробуем найти клиента по имени.
		if found, findErr := c.findByName(ctx, label); findErr == nil && found != nil && found.ID != "" {
			ref = found.ID
			profile, err = c.clientConfig(ctx, ref)
		}
	}
	if err != nil {
		c.log.Error("failed to download config, deleting client",
			slog.String("label", label), sl.Err(err))
		c.compensateDelete(ref)
		return nil, fmt.Errorf("%s: label %s: %w", op, label, err)
	}

	return &models.Peer{
		Ref:       ref,
		PublicKey: info.PublicKey,
		Address:   strings.SplitN(info.Address, "/", 2)[0],
		Profile:   profile,
	}, nil
}

// DeletePeer удаляет клиента. Неизвестный идентификатор — успех.
func (c *Client) DeletePeer(ctx context.Context, ref string) error {
	const op = "wgpeer.wgeasy.DeletePeer"

	if err := c.ensureAuthenticated(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/wireguard/client/"+ref, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, models.ErrBackendUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("%s: %w: unexpected status %s", op, models.ErrBackendUnavailable, resp.Status)
	}
}

// ListPeers возвращает всех клиентов WG-Easy.
func (c *Client) ListPeers(ctx context.Context) ([]models.PeerState, error) {
	const op = "wgpeer.wgeasy.ListPeers"

	clients, err := c.listClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := make([]models.PeerState, 0, len(clients))
	for _, cl := range clients {
		ref := cl.ID
		if ref == "" {
			ref = cl.PublicKey
		}
		result = append(result, models.PeerState{
			Ref:       ref,
			PublicKey: cl.PublicKey,
			Address:   strings.SplitN(cl.Address, "/", 2)[0],
		})
	}
	return result, nil
}

func (c *Client) createClient(ctx context.Context, name string) (*clientInfo, error) {
	body, _ := json.Marshal(map[string]string{"name": name})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/wireguard/client", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%w: client %s already exists", models.ErrBackendRejected, name)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return nil, fmt.Errorf("%w: unexpected status %s", models.ErrBackendUnavailable, resp.Status)
	}

	var info clientInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err == nil && (info.ID != "" || info.PublicKey != "") {
		return &info, nil
	}

	// 2xx с пустым или нечитаемым телом: сервис ещё готовит клиента.
	c.log.Warn("empty response when creating client, searching by name",
		slog.String("name", name))
	for attempt := 0; attempt < c.findRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.findInterval):
		}
		found, err := c.findByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return found, nil
		}
	}
	return nil, fmt.Errorf("%w: client %s not provisioned", models.ErrBackendUnavailable, name)
}

func (c *Client) findByName(ctx context.Context, name string) (*clientInfo, error) {
	clients, err := c.listClients(ctx)
	if err != nil {
		return nil, err
	}
	for _, cl := range clients {
		if cl.Name == name {
			return &cl, nil
		}
	}
	return nil, nil
}

func (c *Client) listClients(ctx context.Context) ([]clientInfo, error) {
	// Протухшая сессия переоформляется ровно один раз. Повторный 401 после
	// свежего логина означает проблему на стороне бэкенда, а не сессии.
	for attempt := 0; ; attempt++ {
		if err := c.ensureAuthenticated(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/api/wireguard/client", nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
		}

		if resp.StatusCode == http.StatusUnauthorized {
			_ = resp.Body.Close()
			c.invalidateSession()
			if attempt == 0 {
				continue
			}
			return nil, fmt.Errorf("%w: unauthorized after re-login", models.ErrBackendUnavailable)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: unexpected status %s", models.ErrBackendUnavailable, resp.Status)
		}

		var clients []clientInfo
		err = json.NewDecoder(resp.Body).Decode(&clients)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid clients response: %w", models.ErrBackendUnavailable, err)
		}
		return clients, nil
	}
}

func (c *Client) clientConfig(ctx context.Context, ref string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/wireguard/client/"+ref+"/configuration", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status %s", models.ErrBackendUnavailable, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty configuration", models.ErrBackendUnavailable)
	}
	return string(data), nil
}

// compensateDelete удаляет только что созданного клиента на собственном
// контексте: отмена исходного запроса не должна оставить клиента-сироту.
func (c *Client) compensateDelete(ref string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
	defer cancel()
	if err := c.DeletePeer(ctx, ref); err != nil {
		c.log.Error("failed to rollback wg-easy client", slog.String("ref", ref), sl.Err(err))
	}
}

func (c *Client) ensureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authenticated {
		return nil
	}
	return c.authenticateLocked(ctx)
}

func (c *Client) invalidateSession() {
	c.mu.Lock()
	c.authenticated = false
	c.mu.Unlock()
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	const op = "wgpeer.wgeasy.authenticate"

	body, _ := json.Marshal(map[string]string{"password": c.password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/session", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, models.ErrBackendUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%s: %w: unexpected status %s", op, models.ErrBackendUnavailable, resp.Status)
	}
	c.authenticated = true
	return nil
}
