// Package identity предоставляет клиент к эндпоинту идентификации
// арендатора: по bearer-токену возвращает принципала и его роли.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/restopos-system/internal/model"
)

// ErrMissingToken возвращается, если учётные данные не переданы вовсе.
var (
	ErrMissingToken = errors.New("authentication required")
	// ErrMalformedToken возвращается при синтаксически некорректном
	// токене; проверка выполняется до любого сетевого вызова.
	ErrMalformedToken = errors.New("malformed bearer token")
	// ErrUnauthorized возвращается, если эндпоинт идентификации
	// явно отверг токен.
	ErrUnauthorized = errors.New("token rejected by identity endpoint")
	// ErrUnreachable возвращается, если эндпоинт идентификации
	// недоступен или не ответил в отведённое время.
	ErrUnreachable = errors.New("identity endpoint unreachable")
)

// Principal описывает аутентифицированного пользователя арендатора.
type Principal struct {
	Email    string
	FullName string
	Roles    []model.Role
}

// Client инкапсулирует HTTP-взаимодействие с эндпоинтами идентификации.
// urlPattern содержит один %s, подставляемый идентификатором арендатора.
type Client struct {
	urlPattern string
	timeout    time.Duration
	httpClient *retryablehttp.Client
}

// NewClient создаёт клиент идентификации. Каждый вызов Resolve
// ограничен timeout целиком, включая повторы.
func NewClient(urlPattern string, timeout time.Duration) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 500 * time.Millisecond
	rc.Logger = nil

	return &Client{
		urlPattern: urlPattern,
		timeout:    timeout,
		httpClient: rc,
	}
}

type principalResponse struct {
	User     string   `json:"user"`
	FullName string   `json:"full_name"`
	Roles    []string `json:"roles"`
}

// Resolve проверяет токен у эндпоинта идентификации арендатора и
// возвращает принципала. Явный отказ и недоступность различаются:
// первый — ErrUnauthorized, второй (включая таймаут) — ErrUnreachable.
func (c *Client) Resolve(ctx context.Context, tenant, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf(c.urlPattern, tenant)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnreachable, resp.StatusCode)
	}

	var pr principalResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %s", ErrUnreachable, err)
	}
	if pr.User == "" {
		return nil, ErrUnauthorized
	}

	return &Principal{
		Email:    pr.User,
		FullName: pr.FullName,
		Roles:    model.ParseRoles(pr.Roles),
	}, nil
}

// TokenFromHeader извлекает токен из заголовка Authorization.
// Допустима единственная форма "Bearer <token>"; всё прочее —
// ErrMalformedToken без обращения к сети.
func TokenFromHeader(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", ErrMalformedToken
	}
	return parts[1], nil
}

// NormalizeToken приводит токен из метаданных подключения к каноничному
// виду: необязательный префикс "Bearer " отбрасывается.
func NormalizeToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingToken
	}
	if strings.HasPrefix(raw, "Bearer ") {
		return TokenFromHeader(raw)
	}
	if strings.ContainsAny(raw, " \t") {
		return "", ErrMalformedToken
	}
	return raw, nil
}
