package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/mediagen-relay/internal/catalog"
	"github.com/suPer8Hu/mediagen-relay/internal/common"
	"github.com/suPer8Hu/mediagen-relay/internal/httpapi/middleware"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
	"github.com/suPer8Hu/mediagen-relay/internal/tasks"
)

type ClientStore interface {
	middleware.ClientLookup
	GetClientByUsername(ctx context.Context, username string) (*models.Client, error)
	CreateClient(ctx context.Context, c *models.Client) error
	SaveClient(ctx context.Context, c *models.Client) error
}

type Handler struct {
	Clients  ClientStore
	Tasks    *tasks.Service
	Catalog  *catalog.Catalog
	ImageDir string
	Log      zerolog.Logger
}

func NewHandler(clients ClientStore, svc *tasks.Service, cat *catalog.Catalog, imageDir string, log zerolog.Logger) *Handler {
	return &Handler{Clients: clients, Tasks: svc, Catalog: cat, ImageDir: imageDir, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func clientFromContext(c *gin.Context) (*models.Client, bool) {
	client, ok := middleware.ClientFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return client, ok
}
