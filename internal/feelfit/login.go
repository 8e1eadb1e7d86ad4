package feelfit

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// publicKeyPEM is the fixed key the official app encrypts passwords
// with before transmission.
const publicKeyPEM = `-----BEGIN PUBLIC KEY-----
MIGfMA0GCSqGSIb3DQEBAQUAA4GNADCBiQKBgQC+25I2upukpfQ7rIaaTZtVE744
u2zV+HaagrUhDOTq8fMVf9yFQvEZh2/HKxFudUxP0dXUa8F6X4XmWumHdQnum3zm
Jr04fz2b2WCcN0ta/rbF2nYAnMVAk2OJVZAMudOiMWhcxV1nNJiKgTNNr13de0EQ
IiOL2CUBzu+HmIfUbQIDAQAB
-----END PUBLIC KEY-----`

// encryptPassword RSA-encrypts the password (PKCS#1 v1.5 padding) and
// base64-encodes the result. CPU-bound; callers run it before any
// network I/O.
func encryptPassword(password string) (string, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return "", errors.New("invalid public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return "", errors.New("public key is not RSA")
	}
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(password))
	if err != nil {
		return "", fmt.Errorf("encrypt password: %w", err)
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// Login exchanges the account credentials for a bearer token and the
// primary user info, mutating the client session in place. The server
// must answer with envelope code "200" or "0"; anything else fails
// with an AuthError carrying the raw payload.
func (c *Client) Login(ctx context.Context, password string) (map[string]any, error) {
	encrypted, err := encryptPassword(password)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]string{
		"email":    c.Email,
		"password": encrypted,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(pathLogin, nil), bytes.NewReader(payload))
	if err != nil {
		return nil, &RequestError{Err: err}
	}
	for k, v := range commonHeaders {
		req.Header.Set(k, v)
	}
	// the login endpoint expects an empty bearer header
	req.Header.Set("Authorization", "Bearer")
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Errorw("feelfit login failed", "error", err)
		return nil, &RequestError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Errorw("feelfit login non-200", "status", resp.StatusCode, "body", string(body))
		return nil, &RequestError{Status: resp.StatusCode, Body: string(body)}
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &RequestError{Status: resp.StatusCode, Body: string(body), Err: err}
	}

	if code := coerceString(result["code"]); code != "200" && code != "0" {
		c.logger.Errorw("feelfit login rejected", "body", string(body))
		return nil, &AuthError{Reason: "login failed", Payload: string(body)}
	}

	data := asObject(result["data"])
	tokenInfo := asObject(data["token_info"])
	if token := coerceString(tokenInfo["token"]); token != "" {
		c.Token = token
		if remaining := coerceInt64(tokenInfo["remaining_time"]); remaining > 0 {
			c.TokenExpires = time.Now().Add(time.Duration(remaining) * time.Second)
		} else {
			// expiry unknown; an expired token surfaces later as an
			// auth failure
			c.TokenExpires = time.Time{}
		}
	}
	c.UserInfo = asObject(data["user_info"])

	c.logger.Debugw("feelfit login success", "user_id", c.UserInfo["user_id"])
	return data, nil
}
