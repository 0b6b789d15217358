// Package identityprovider реализует клиент OAuth-провайдера:
// обмен кода авторизации на токен и чтение профиля пользователя.
package identityprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/config"
)

// ErrUpstream провайдер недоступен или вернул неожиданный ответ.
var ErrUpstream = errors.New("identity provider unavailable")

// Client клиент OAuth-провайдера внешней идентичности.
type Client struct {
	clientID     string
	clientSecret string
	authURL      string
	apiURL       string
	httpClient   *http.Client
}

// NewClient создаёт новый клиент по настройкам конфига.
func NewClient(cfg config.IdentityProvider) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		authURL:      cfg.AuthURL,
		apiURL:       cfg.APIURL,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// ExchangeCode обменивает код авторизации на внешнюю идентичность:
// сначала код меняется на токен, затем по токену читается профиль.
// Если в профиле скрыт email, выполняется дополнительный запрос списка адресов.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Identity, error) {
	const op = "identityprovider.ExchangeCode"

	token, err := c.exchangeToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := c.fetchUser(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	identity := &Identity{
		ID:       strconv.FormatInt(user.ID, 10),
		Username: user.Login,
		Email:    user.Email,
	}
	if identity.Email == "" {
		email, err := c.fetchPrimaryEmail(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		identity.Email = email
	}
	return identity, nil
}

func (c *Client) exchangeToken(ctx context.Context, code string) (string, error) {
	body := map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"code":          code,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL+"/access_token", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status %s", ErrUpstream, resp.Status)
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if tokenResp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrUpstream, tokenResp.Error)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrUpstream)
	}
	return tokenResp.AccessToken, nil
}

func (c *Client) fetchUser(ctx context.Context, token string) (*userResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %s", ErrUpstream, resp.Status)
	}

	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("%w: empty user id", ErrUpstream)
	}
	return &user, nil
}

func (c *Client) fetchPrimaryEmail(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/user/emails", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		// Скрытый email не повод ронять привязку.
		return "", nil
	}

	var emails []emailEntry
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}
