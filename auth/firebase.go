package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	terrors "totari/internal/errors"
	"totari/log"
	"totari/model"
)

const DefaultIdentityURL = "https://identitytoolkit.googleapis.com/v1"

// Claims is the subset of a Firebase ID token the client reads.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// Firebase signs in with email and password against the Identity Toolkit
// REST API.
type Firebase struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewFirebase(apiKey, baseURL string) *Firebase {
	if baseURL == "" {
		baseURL = DefaultIdentityURL
	}
	return &Firebase{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *Firebase) Name() string { return "firebase" }

type signInResponse struct {
	IDToken     string `json:"idToken"`
	LocalID     string `json:"localId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type identityError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (f *Firebase) SignIn(ctx context.Context, email, password string) (*model.User, error) {
	if f.apiKey == "" {
		return nil, terrors.NewBackendUnavailable("firebase auth")
	}
	if email == "" || password == "" {
		return nil, terrors.NewInvalidRequest("email and password are required")
	}

	body, _ := json.Marshal(map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
	url := f.baseURL + "/accounts:signInWithPassword?key=" + f.apiKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sign-in request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read sign-in response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		e := terrors.NewUnauthenticated()
		var ie identityError
		if err := json.Unmarshal(raw, &ie); err == nil && ie.Error.Message != "" {
			e.Message = ie.Error.Message
		} else {
			e.Message = fmt.Sprintf("sign-in failed: %d %s", resp.StatusCode, bodySnippet(raw))
		}
		log.Warnf("sign-in rejected for %s: %s", email, e.Message)
		return nil, e
	}

	var sr signInResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("decode sign-in response: %w", err)
	}
	return userFromToken(sr)
}

func bodySnippet(raw []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

// userFromToken prefers the token's claims over the response fields. The
// token signature is not checked.
func userFromToken(sr signInResponse) (*model.User, error) {
	u := &model.User{ID: sr.LocalID, Email: sr.Email, DisplayName: sr.DisplayName}
	if sr.IDToken != "" {
		claims := &Claims{}
		if _, _, err := jwt.NewParser().ParseUnverified(sr.IDToken, claims); err != nil {
			return nil, fmt.Errorf("parse id token: %w", err)
		}
		if claims.UserID != "" {
			u.ID = claims.UserID
		} else if claims.Subject != "" {
			u.ID = claims.Subject
		}
		if claims.Email != "" {
			u.Email = claims.Email
		}
		if claims.Name != "" {
			u.DisplayName = claims.Name
		}
		if claims.IssuedAt != nil {
			u.CreatedAt = claims.IssuedAt.UnixMilli()
		}
	}
	if u.ID == "" {
		return nil, terrors.NewUnauthenticated()
	}
	if u.CreatedAt == 0 {
		u.CreatedAt = model.NowMillis()
	}
	return u, nil
}
