package handlers

import (
	"familyhub/internal/auth"
	"familyhub/internal/authorizer"
	"familyhub/internal/config"
	"familyhub/internal/gateway"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Handler holds the dependencies of the HTTP endpoints.
type Handler struct {
	db         *gorm.DB
	tokens     *auth.Tokens
	authorizer *authorizer.Authorizer
	publisher  gateway.Publisher
	gateway    config.Public
	log        zerolog.Logger
}

func New(db *gorm.DB, tokens *auth.Tokens, az *authorizer.Authorizer, pub gateway.Publisher, gw config.Public, log zerolog.Logger) *Handler {
	return &Handler{
		db:         db,
		tokens:     tokens,
		authorizer: az,
		publisher:  pub,
		gateway:    gw,
		log:        log.With().Str("component", "http").Logger(),
	}
}
