package ingress

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// SignatureHeader carries the bridge's HMAC of the request body.
const SignatureHeader = "X-Signature-256"

// Sign returns the header value for body, "sha256=<hex hmac>".
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func verifySignature(body []byte, signature, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(signature), []byte(Sign(body, secret))) == 1
}

// signatureMiddleware requires a valid SignatureHeader on requests with a
// body. The body is restored for the handler.
func signatureMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			body, err := io.ReadAll(req.Body)
			if err != nil {
				return c.JSON(http.StatusBadRequest, errorResponse{Error: "could not read request body"})
			}
			req.Body = io.NopCloser(bytes.NewReader(body))

			if len(body) > 0 && !verifySignature(body, req.Header.Get(SignatureHeader), secret) {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid signature"})
			}
			return next(c)
		}
	}
}
