package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/zenazn/goji/web"
)

// GenerateJWT returns a HS256 JWT for a user signed with the secret key.
func GenerateJWT(user, secretKey string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user": user})
	tokenString, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("error with JWT signing: %v", err)
	}
	return tokenString, nil
}

// parseJWT returns the user of a bearer token signed with the secret key.
func parseJWT(header, secretKey string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("JWT required via Authorization in request header")
	}
	splitToken := strings.Split(header, "Bearer")
	if len(splitToken) != 2 {
		return "", fmt.Errorf("bearer not in proper format")
	}
	reqToken := strings.TrimSpace(splitToken[1])
	if reqToken == "" {
		return "", fmt.Errorf("requests require JWT authentication")
	}
	token, err := jwt.Parse(reqToken, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("error signing method: %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		return "", fmt.Errorf("error parsing JWT: %v", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("failed authorization")
	}
	user, ok := claims["user"].(string)
	if !ok || user == "" {
		return "", fmt.Errorf("user %v is not a simple string", claims["user"])
	}
	return user, nil
}

// authorize is middleware that requires a valid JWT for requests that modify data and sets
// the c.Env["user"] field to the authenticated user.  Reads are always allowed.
func (s *Service) authorize(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		secretKey := s.config.Auth.SecretKey
		if secretKey == "" || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			h.ServeHTTP(w, r)
			return
		}
		user, err := parseJWT(r.Header.Get("Authorization"), secretKey)
		if err != nil {
			Unauthorized(w, r, "%v", err)
			return
		}
		if c.Env == nil {
			c.Env = make(map[interface{}]interface{})
		}
		c.Env["user"] = user
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
