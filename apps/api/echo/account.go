package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/mzazilink/backend/core"
	"github.com/mzazilink/backend/core/account"
)

type accountApi struct {
	svc  account.Service
	conf *core.Config
}

func registerAccountAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc account.Service, conf *core.Config) {
	api := accountApi{svc: svc, conf: conf}

	ag := g.Group("/accounts")

	// un-authed endpoints
	ag.POST("/login", api.login)

	// authed endpoints
	authed := ag.Group("", jwt)
	authed.GET("/me", api.me)
	authed.POST("/register", api.create, adminMiddleware())
	authed.GET("", api.query, adminMiddleware())
	authed.GET("/roles", api.queryRoles, adminMiddleware())
}

// Handlers

func (api *accountApi) login(ctx echo.Context) error {
	var data account.LoginAccount
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginAccount")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	acct, err := api.svc.Authenticate(ctx.Request().Context(), data.Username, data.Password)
	if err != nil {
		if errors.Is(err, account.ErrAuthenticationFailed) {
			return errAuthenticationFailed
		}
		return errors.Wrap(err, "authenticating")
	}

	token, err := GenerateToken(api.conf, GetAccountClaims(api.conf, acct))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *accountApi) me(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	acct, err := api.svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "finding account by ID")
	}
	if !acct.IsActive {
		return errAccountDeactivated
	}
	return ctx.JSON(http.StatusOK, acct)
}

func (api *accountApi) create(ctx echo.Context) error {
	var data account.NewAccount
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAccount")
	}
	if err := data.Validate(ctx.Request().Context(), api.svc); err != nil {
		return err
	}

	// admins only manage their own school
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	data.SchoolID = claims.SchoolID

	acct, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating account")
	}
	return ctx.JSON(http.StatusCreated, acct)
}

func (api *accountApi) query(ctx echo.Context) error {
	accts, err := api.svc.QueryAll(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying accounts")
	}
	if accts == nil {
		accts = []account.Account{}
	}
	return ctx.JSON(http.StatusOK, accts)
}

func (api *accountApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, account.AllRoles)
}

type LoginResponse struct {
	Token string `json:"token"`
}
