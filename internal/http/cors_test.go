package httpapi

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
)

func corsRouter(t *testing.T, origins []string) *relay {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(corsHandlers(origins)...)
	r.GET("/notifications", func(c *gin.Context) { c.Status(http.StatusOK) })
	return &relay{t: t, r: r}
}

func TestCORS_AllowAll(t *testing.T) {
	rl := corsRouter(t, nil)

	if got := rl.do(http.MethodGet, "/notifications", "").Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("no Origin: ACAO = %q", got)
	}
	w := rl.do(http.MethodGet, "/notifications", "", "Origin", "https://shop.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("with Origin: ACAO = %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") == "true" {
		t.Fatal("credentials allowed with wildcard origin")
	}
}

func TestCORS_Allowlist(t *testing.T) {
	rl := corsRouter(t, []string{"https://admin.shop.example"})

	w := rl.do(http.MethodGet, "/notifications", "", "Origin", "https://admin.shop.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://admin.shop.example" {
		t.Fatalf("listed origin: ACAO = %q", got)
	}

	w = rl.do(http.MethodGet, "/notifications", "", "Origin", "https://evil.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted origin: ACAO = %q", got)
	}

	w = rl.do(http.MethodOptions, "/notifications", "",
		"Origin", "https://admin.shop.example",
		"Access-Control-Request-Method", http.MethodPost,
		"Access-Control-Request-Headers", "Idempotency-Key")
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight = %d", w.Code)
	}
}
