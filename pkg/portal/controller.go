package portal

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrblonde/orders/pkg/apiresponses"
	"github.com/mrblonde/orders/pkg/store"
	"github.com/mrblonde/orders/pkg/system"
)

// Controller exposes portal login, logout and the current identity as JSON.
type Controller struct {
	manager *Manager
	log     *zap.SugaredLogger
}

func NewController(manager *Manager, log *zap.SugaredLogger) *Controller {
	return &Controller{manager: manager, log: log}
}

func (Controller) BasePath() string {
	return "portal/"
}

func (Controller) Handlers() []gin.HandlerFunc {
	return nil
}

func (pc *Controller) Register(rg *gin.RouterGroup) error {
	rg.POST("/login", pc.handleLogin)
	rg.POST("/logout", pc.handleLogout)
	rg.GET("/me", pc.handleMe)
	return nil
}

type LoginRequest struct {
	TaxID string `json:"taxId" form:"taxId"`
	Token string `json:"token" form:"token"`
}

// ClientView is the client data the portal frontend may see.
type ClientView struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Status store.ClientStatus `json:"status"`
}

func viewOf(c *store.Client) ClientView {
	return ClientView{ID: c.ID, Name: c.Name, Status: c.Status}
}

func (pc *Controller) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		apiresponses.RespondBadRequest(c, "invalid login request")
		return
	}

	client, err := pc.manager.Login(c, req.TaxID, req.Token)
	switch {
	case err == nil:
		apiresponses.RespondOK(c, viewOf(client))
	case errors.Is(err, ErrInvalidTaxID):
		apiresponses.RespondError(c, http.StatusUnprocessableEntity, "INVALID_TAX_ID", "CPF inválido: informe os 11 dígitos")
	case errors.Is(err, ErrInvalidTokenInput):
		apiresponses.RespondError(c, http.StatusUnprocessableEntity, "INVALID_TOKEN", "O código de acesso deve ter 6 dígitos")
	case errors.Is(err, ErrClientNotFound):
		apiresponses.RespondError(c, http.StatusUnauthorized, "CLIENT_NOT_FOUND", "Cliente não encontrado")
	case errors.Is(err, ErrIncorrectToken):
		apiresponses.RespondError(c, http.StatusUnauthorized, "INCORRECT_TOKEN", "Código de acesso incorreto")
	case errors.Is(err, ErrClientNotAllowed):
		apiresponses.RespondError(c, http.StatusForbidden, "CLIENT_NOT_ALLOWED", "Acesso ao portal não liberado para este cliente")
	default:
		apiresponses.RespondInternalError(c, "sign in to the portal", err, system.GetReqLogger(c, pc.log))
	}
}

func (pc *Controller) handleLogout(c *gin.Context) {
	pc.manager.Logout(c)
	apiresponses.RespondNoContent(c)
}

func (pc *Controller) handleMe(c *gin.Context) {
	client := pc.manager.Identity(c)
	if client == nil {
		apiresponses.RespondUnauthorizedWithMessage(c, "no portal session")
		return
	}
	apiresponses.RespondOK(c, viewOf(client))
}
