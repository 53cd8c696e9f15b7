package main

import (
	"context"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/potionlabs/potionshop/core/access"
	"github.com/potionlabs/potionshop/core/csql"
	"github.com/potionlabs/potionshop/core/logger"
	"github.com/potionlabs/potionshop/potions"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
// or SQLITE="potionshop.db" for a local single-file shop
type Service struct {
	Postgres      string `env:"POSTGRES" description:"the connection string for the Postgres DB"`
	SQLite        string `env:"SQLITE" description:"the SQLite database file, used when POSTGRES is not set"`
	PublicKeyFile string `env:"PUBLIC_KEY_FILE,required" description:"PEM file with the RSA public key for token verification"`
	LogLevel      string `env:"LOG_LEVEL,default=info" description:"log level: debug, info, warning, error"`
	Port          string `env:"PORT,default=3000" description:"the port to listen on"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	logLevel, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(logLevel)
	rlog := logger.Default()

	var db *csql.DB
	if service.Postgres != "" {
		db = csql.OpenPostgres(service.Postgres)
	} else if service.SQLite != "" {
		db = csql.OpenSQLite(service.SQLite)
	} else {
		panic("neither POSTGRES nor SQLITE is set")
	}
	defer db.Close()

	publicKey, err := os.ReadFile(service.PublicKeyFile)
	if err != nil {
		panic(err)
	}
	authenticator, err := access.NewOAuth2Middleware(&access.OAuth2MiddlewareBuilder{
		PublicKey: publicKey,
		// reading the shop is public, writing needs a token
		ExemptMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	})
	if err != nil {
		panic(err)
	}

	auditLog, err := logger.NewDBAuditLog(db)
	if err != nil {
		panic(err)
	}

	shop := potions.New(&potions.Builder{
		DB:            db,
		Router:        mux.NewRouter(),
		UpdateSchema:  true,
		Authenticator: authenticator,
		AuditSink:     auditLog,
		WithCORS:      true,
	})
	if err := shop.Seed(context.Background()); err != nil {
		panic(err)
	}

	rlog.Infoln("listen on port :" + service.Port)
	rlog.Fatal(http.ListenAndServe(":"+service.Port,
		handlers.CompressHandler(shop.Handler())))
}
