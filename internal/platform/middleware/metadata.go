// Package middleware carries request metadata and authentication for the
// HTTP surface. Metadata lands in the request context so the recorder can
// attribute entries without handlers threading it through.
package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"custos/pkg/requestcontext"
)

const requestIDHeader = "X-Request-Id"

// Metadata assigns a request ID and derives the caller's IP and client
// signature into the request context.
func Metadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		ctx = requestcontext.WithClientIP(ctx, clientIP(r))
		if sig := clientSignature(r.UserAgent()); sig != "" {
			ctx = requestcontext.WithClientSignature(ctx, sig)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientSignature condenses the user agent into a stable short form for the
// audit origin. Unparseable agents are kept raw, truncated.
func clientSignature(ua string) string {
	if ua == "" {
		return ""
	}

	parsed := useragent.New(ua)
	name, version := parsed.Browser()
	if name != "" {
		sig := name
		if version != "" {
			sig = fmt.Sprintf("%s/%s", name, version)
		}
		if os := parsed.OS(); os != "" {
			sig = fmt.Sprintf("%s (%s)", sig, os)
		}
		return sig
	}

	if len(ua) > 120 {
		return ua[:120]
	}
	return ua
}
