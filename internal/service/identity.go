package service

import (
	"errors"
	"net/http"
	"strings"

	"chat_web/internal/utils"
)

// Credentials 是連線時可能攜帶 token 的三個位置
type Credentials struct {
	AuthPayload     string // 握手時的 auth 欄位（token 查詢參數），優先權最高
	HandshakeHeader string // 握手請求的 Authorization 標頭
	RequestHeader   string // 舊版客戶端使用的 X-Authorization 標頭，優先權最低
}

// CredentialsFromRequest 從升級請求中取出三個位置的原始值
func CredentialsFromRequest(r *http.Request) Credentials {
	return Credentials{
		AuthPayload:     r.URL.Query().Get("token"),
		HandshakeHeader: r.Header.Get("Authorization"),
		RequestHeader:   r.Header.Get("X-Authorization"),
	}
}

// Token 依優先順序取出第一個可用的 token
func (c Credentials) Token() string {
	if token := strings.TrimSpace(c.AuthPayload); token != "" {
		if bearer, ok := bearerToken(token); ok {
			return bearer
		}
		return token
	}
	for _, header := range []string{c.HandshakeHeader, c.RequestHeader} {
		if token, ok := bearerToken(header); ok {
			return token
		}
	}
	return ""
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// IdentityVerifier 驗證連線攜帶的 token 並取得用戶 ID
type IdentityVerifier struct {
	tokens *utils.TokenManager
}

func NewIdentityVerifier(tokens *utils.TokenManager) *IdentityVerifier {
	return &IdentityVerifier{tokens: tokens}
}

// Authenticate 純驗證，不產生副作用；失敗時由呼叫端負責關閉連線
func (v *IdentityVerifier) Authenticate(creds Credentials) (string, error) {
	token := creds.Token()
	if token == "" {
		return "", ErrMissingCredential
	}

	claims, err := v.tokens.ParseToken(token)
	if err != nil {
		if errors.Is(err, utils.ErrExpiredToken) {
			return "", errors.Join(ErrInvalidCredential, err)
		}
		return "", ErrInvalidCredential
	}

	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return "", ErrMalformedCredential
	}
	return userID, nil
}
