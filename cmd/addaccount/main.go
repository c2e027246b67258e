// Command addaccount imports a browser storage-state export as a vendor account.
//
//	addaccount -file state.json [-username someone@example.com] [-inactive]
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/mediagen-relay/internal/config"
	"github.com/suPer8Hu/mediagen-relay/internal/db"
	"github.com/suPer8Hu/mediagen-relay/internal/logging"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
	"github.com/suPer8Hu/mediagen-relay/internal/session"
	"github.com/suPer8Hu/mediagen-relay/internal/store/sqlstore"
)

func main() {
	file := flag.String("file", "", "storage-state json file")
	username := flag.String("username", "", "account login, for reference")
	inactive := flag.Bool("inactive", false, "import without enabling the account")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Server.AppEnv, cfg.Server.LogLevel)
	if *file == "" {
		log.Fatal().Msg("-file is required")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal().Err(err).Msg("read storage state")
	}
	jar, err := session.ParseCookies(raw, cfg.Vendor.CookieDomain)
	if err != nil {
		log.Fatal().Err(err).Str("domain", cfg.Vendor.CookieDomain).Msg("storage state has no usable cookies")
	}

	gdb, err := db.Open(cfg.Database.DSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	repo := sqlstore.NewRepo(gdb)

	acct := &models.Account{
		IsActive:     !*inactive,
		Subscription: "free",
		Cookies:      raw,
	}
	if *username != "" {
		acct.Username = username
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := repo.CreateAccount(ctx, acct); err != nil {
		log.Fatal().Err(err).Msg("create account")
	}
	log.Info().Uint64("account_id", acct.ID).Int("cookies", len(jar)).Bool("active", acct.IsActive).Msg("account imported")
}
