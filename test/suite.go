// Package test runs the potion shop end to end: a real PostgreSQL in a
// container, the full middleware chain, and a client speaking HTTP.
package test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/potionlabs/potionshop/core/access"
	"github.com/potionlabs/potionshop/core/client"
	"github.com/potionlabs/potionshop/core/csql"
	"github.com/potionlabs/potionshop/core/logger"
	"github.com/potionlabs/potionshop/potions"
)

// IntegrationTestSuite starts a PostgreSQL container and serves the
// potion shop on localhost:8099 with token authentication for writes.
type IntegrationTestSuite struct {
	suite.Suite

	srv               *http.Server
	shop              *potions.Shop
	dbConn            *csql.DB
	postgresContainer testcontainers.Container
	signingKey        *rsa.PrivateKey

	client       client.Client
	clientNoAuth client.Client
}

const serverAddr = "localhost:8099"

func (s *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	postgresUser := "testuser"
	postgresPassword := "testpass"
	postgresDB := "testdb"

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDB,
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	s.Require().NoError(err)
	s.postgresContainer = pgC

	pgHost, err := pgC.Host(ctx)
	s.Require().NoError(err)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	s.dbConn = csql.OpenPostgres(fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgPort.Port(), postgresUser, postgresPassword, postgresDB))

	s.signingKey, err = rsa.GenerateKey(rand.Reader, 2048)
	s.Require().NoError(err)
	der, err := x509.MarshalPKIXPublicKey(&s.signingKey.PublicKey)
	s.Require().NoError(err)
	publicKeyPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	authenticator, err := access.NewOAuth2Middleware(&access.OAuth2MiddlewareBuilder{
		PublicKey:     publicKeyPEM,
		ExemptMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	})
	s.Require().NoError(err)

	auditLog, err := logger.NewDBAuditLog(s.dbConn)
	s.Require().NoError(err)

	s.shop = potions.New(&potions.Builder{
		DB:            s.dbConn,
		Router:        mux.NewRouter(),
		UpdateSchema:  true,
		Authenticator: authenticator,
		AuditSink:     auditLog,
	})
	s.Require().NoError(s.shop.Seed(ctx))

	s.srv = &http.Server{
		Addr:    serverAddr,
		Handler: s.shop.Handler(),
	}
	go func() {
		err := s.srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			s.T().Errorf("Failed to start HTTP server: %v", err)
		}
	}()
	s.waitForServer()

	s.client = client.NewWithURL("http://" + serverAddr).WithToken(s.adminToken())
	s.clientNoAuth = client.NewWithURL("http://" + serverAddr)
}

func (s *IntegrationTestSuite) waitForServer() {
	for i := 0; i < 50; i++ {
		res, err := http.Get("http://" + serverAddr + "/v1/potions")
		if err == nil {
			res.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	s.T().Fatal("server did not come up")
}

func (s *IntegrationTestSuite) adminToken() string {
	now := time.Now()
	claims := access.Claims{
		Name:  "Shopkeeper",
		Admin: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "shopkeeper",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.signingKey)
	s.Require().NoError(err)
	return token
}

func (s *IntegrationTestSuite) TearDownSuite() {
	ctx := context.Background()
	if s.srv != nil {
		s.Require().NoError(s.srv.Shutdown(ctx))
	}
	if s.dbConn != nil {
		s.dbConn.Close()
	}
	if s.postgresContainer != nil {
		s.Require().NoError(s.postgresContainer.Terminate(ctx))
	}
}
