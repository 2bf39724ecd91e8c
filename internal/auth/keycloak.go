// internal/auth/keycloak.go
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jobmarket-sync/internal/common/errors"
)

// KeycloakAuthenticator implements Authenticator against a Keycloak
// realm: resource-owner password grant for sign-in, the admin API for
// account creation.
type KeycloakAuthenticator struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	adminToken  string
	tokenExpiry time.Time
}

type keycloakTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func NewKeycloakAuthenticator(baseURL, realm, clientID, clientSecret string) *KeycloakAuthenticator {
	return &KeycloakAuthenticator{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (k *KeycloakAuthenticator) SignIn(ctx context.Context, email, password string) (Principal, error) {
	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", k.baseURL, k.realm)

	data := url.Values{}
	data.Set("grant_type", "password")
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)
	data.Set("username", email)
	data.Set("password", password)

	resp, err := k.postForm(ctx, tokenURL, data, "")
	if err != nil {
		return Principal{}, errors.NewStoreUnavailableError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return Principal{}, errors.NewInvalidCredentialsError(readBody(resp))
	case http.StatusTooManyRequests:
		return Principal{}, errors.NewRateLimitedError(readBody(resp))
	default:
		return Principal{}, errors.NewStoreUnavailableError(
			fmt.Errorf("keycloak token request failed with status %d: %s", resp.StatusCode, readBody(resp)))
	}

	var tokenResp keycloakTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return Principal{}, errors.NewStoreUnavailableError(err)
	}

	id, err := k.lookupUserID(ctx, email)
	if err != nil {
		return Principal{}, err
	}
	return Principal{ID: id, Email: email}, nil
}

func (k *KeycloakAuthenticator) SignUp(ctx context.Context, email, password string) (Principal, error) {
	if err := k.refreshAdminToken(ctx); err != nil {
		return Principal{}, err
	}

	userURL := fmt.Sprintf("%s/admin/realms/%s/users", k.baseURL, k.realm)
	payload, _ := json.Marshal(map[string]interface{}{
		"username":      email,
		"email":         email,
		"enabled":       true,
		"emailVerified": false,
		"credentials": []map[string]interface{}{
			{"type": "password", "value": password, "temporary": false},
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, userURL, strings.NewReader(string(payload)))
	if err != nil {
		return Principal{}, errors.NewStoreUnavailableError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+k.adminToken)

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return Principal{}, errors.NewStoreUnavailableError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusConflict:
		return Principal{}, errors.NewEmailInUseError(email)
	default:
		return Principal{}, errors.NewStoreUnavailableError(
			fmt.Errorf("keycloak user create failed with status %d: %s", resp.StatusCode, readBody(resp)))
	}

	// Keycloak returns the new user's id in the Location header.
	if loc := resp.Header.Get("Location"); loc != "" {
		parts := strings.Split(strings.TrimSuffix(loc, "/"), "/")
		return Principal{ID: parts[len(parts)-1], Email: email}, nil
	}

	id, err := k.lookupUserID(ctx, email)
	if err != nil {
		return Principal{}, err
	}
	return Principal{ID: id, Email: email}, nil
}

func (k *KeycloakAuthenticator) SignOut(ctx context.Context, principalID string) error {
	if err := k.refreshAdminToken(ctx); err != nil {
		return err
	}

	logoutURL := fmt.Sprintf("%s/admin/realms/%s/users/%s/logout", k.baseURL, k.realm, principalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, logoutURL, nil)
	if err != nil {
		return errors.NewStoreUnavailableError(err)
	}
	req.Header.Set("Authorization", "Bearer "+k.adminToken)

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return errors.NewStoreUnavailableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return errors.NewStoreUnavailableError(
			fmt.Errorf("keycloak logout failed with status %d", resp.StatusCode))
	}
	return nil
}

// refreshAdminToken fetches a client-credentials token for the admin
// API, cached until expiry.
func (k *KeycloakAuthenticator) refreshAdminToken(ctx context.Context) error {
	if k.tokenExpiry.After(time.Now()) && k.adminToken != "" {
		return nil
	}

	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", k.baseURL, k.realm)
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)

	resp, err := k.postForm(ctx, tokenURL, data, "")
	if err != nil {
		return errors.NewStoreUnavailableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.NewStoreUnavailableError(
			fmt.Errorf("keycloak admin token request failed with status %d: %s", resp.StatusCode, readBody(resp)))
	}

	var tokenResp keycloakTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return errors.NewStoreUnavailableError(err)
	}

	k.adminToken = tokenResp.AccessToken
	k.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return nil
}

func (k *KeycloakAuthenticator) lookupUserID(ctx context.Context, email string) (string, error) {
	if err := k.refreshAdminToken(ctx); err != nil {
		return "", err
	}

	searchURL := fmt.Sprintf("%s/admin/realms/%s/users?email=%s&exact=true",
		k.baseURL, k.realm, url.QueryEscape(email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", errors.NewStoreUnavailableError(err)
	}
	req.Header.Set("Authorization", "Bearer "+k.adminToken)

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return "", errors.NewStoreUnavailableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.NewStoreUnavailableError(
			fmt.Errorf("keycloak user lookup failed with status %d", resp.StatusCode))
	}

	var users []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return "", errors.NewStoreUnavailableError(err)
	}
	if len(users) == 0 {
		return "", errors.NewUnknownAccountError(email)
	}
	return users[0].ID, nil
}

func (k *KeycloakAuthenticator) postForm(ctx context.Context, rawURL string, data url.Values, bearer string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return k.httpClient.Do(req)
}

func readBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return string(body)
}
