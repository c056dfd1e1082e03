// Package servertest starts the whole server side in-process for client
// tests: the HTTP API on an in-memory database plus a fake gateway it
// publishes to.
package servertest

import (
	"net/http/httptest"
	"testing"
	"time"

	"familyhub/internal/auth"
	"familyhub/internal/config"
	"familyhub/internal/gateway"
	"familyhub/internal/server"
	"familyhub/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type Stack struct {
	API     *httptest.Server
	Gateway *testutil.Gateway
	DB      *gorm.DB
	Fixture *testutil.Fixture
	Tokens  *auth.Tokens
}

// Start brings the stack up and registers its shutdown with t.Cleanup.
func Start(t testing.TB) *Stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gw := testutil.NewGateway("familyhub-test", "app-key", []byte("app-secret"))
	t.Cleanup(gw.Close)

	db, err := testutil.NewInMemoryDB()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	fx, err := testutil.Seed(db)
	if err != nil {
		t.Fatalf("seed db: %v", err)
	}

	pub := gw.Public()
	tokens := auth.NewTokens("jwt-secret", "familyhub", "familyhub-clients", time.Hour)
	router := server.NewRouter(server.Deps{
		DB:        db,
		Tokens:    tokens,
		Publisher: gateway.NewClient(gw.URL(), gw.AppID, gw.Key, gw.Secret),
		Gateway: config.Gateway{
			Host:      pub.Host,
			Port:      pub.Port,
			Scheme:    pub.Scheme,
			AppID:     gw.AppID,
			AppKey:    gw.Key,
			AppSecret: string(gw.Secret),
		},
		Log: zerolog.Nop(),
	})
	api := httptest.NewServer(router)
	t.Cleanup(api.Close)

	return &Stack{API: api, Gateway: gw, DB: db, Fixture: fx, Tokens: tokens}
}

// Token issues a bearer token for a fixture user.
func (s *Stack) Token(t testing.TB, userID uint, name string) string {
	t.Helper()
	token, _, err := s.Tokens.GenerateToken(uint64(userID), name)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}
