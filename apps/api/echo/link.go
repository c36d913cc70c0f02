package echoapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/mzazilink/backend/core"
	"github.com/mzazilink/backend/core/account"
	"github.com/mzazilink/backend/core/link"
	"github.com/mzazilink/backend/services/export"
	"github.com/mzazilink/backend/services/metrics"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type linkApi struct {
	svc link.Service
}

func registerLinkAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc link.Service) {
	api := linkApi{svc: svc}

	lg := g.Group("/links", jwt)
	lg.POST("", api.initiate)
	lg.GET("/pending", api.pending, adminMiddleware())
	lg.GET("/capabilities", api.capabilities)
	lg.GET("/:id", api.retrieve)
	lg.GET("/:id/history", api.history, adminMiddleware())
	lg.GET("/:id/history.xlsx", api.historyWorkbook, adminMiddleware())
	lg.POST("/:id/approve", api.approve, adminMiddleware())
	lg.POST("/:id/confirm", api.confirm, roleMiddleware(account.RoleGuardian))
	lg.POST("/:id/reject", api.reject, adminMiddleware())
	lg.POST("/:id/revoke", api.revoke, roleMiddleware(account.RoleSchoolAdmin, account.RoleGuardian))
	lg.POST("/:id/unlink", api.unlink, adminMiddleware())

	rg := g.Group("/retentions", jwt, adminMiddleware())
	rg.GET("", api.retentions)
	rg.GET("/:id", api.retention)
	rg.POST("/:id/recover", api.recover)

	ig := g.Group("/incidents", jwt)
	ig.POST("", api.raiseIncident, staffMiddleware())
	ig.GET("", api.incidents, adminMiddleware())
	ig.POST("/:id/resolve", api.resolveIncident, adminMiddleware())
}

// observe records a transition attempt on the metrics counters.
func observe(action string, err error) {
	if err != nil {
		metrics.LinkTransitionErrors.Inc()
		return
	}
	metrics.LinkTransitions.WithLabelValues(action).Inc()
}

// getOwned loads a request within the caller's school; guardians only ever
// see their own requests, others' are a 404 to them.
func (api *linkApi) getOwned(ctx echo.Context, claims Claims) (link.GuardianLinkRequest, error) {
	req, err := api.svc.Get(ctx.Request().Context(), claims.SchoolID, ctx.Param("id"))
	if err != nil {
		return link.GuardianLinkRequest{}, errors.Wrap(err, "finding link request")
	}
	if claims.Role == account.RoleGuardian && req.GuardianID != claims.Subject {
		return link.GuardianLinkRequest{}, errHttpNotFound
	}
	return req, nil
}

// Handlers

func (api *linkApi) initiate(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	var data link.NewLinkRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLinkRequest")
	}
	// tenancy comes from the token, never from the payload
	data.SchoolID = claims.SchoolID
	if claims.Role == account.RoleGuardian {
		// guardians can only claim links for themselves
		data.GuardianID = claims.Subject
	}

	req, err := api.svc.Initiate(ctx.Request().Context(), claims.actor(), data)
	observe(link.ActionInitiated, err)
	if err != nil {
		return errors.Wrap(err, "initiating link request")
	}
	return ctx.JSON(http.StatusCreated, req)
}

func (api *linkApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	req, err := api.getOwned(ctx, claims)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *linkApi) pending(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	reqs, err := api.svc.Pending(ctx.Request().Context(), claims.SchoolID)
	if err != nil {
		return errors.Wrap(err, "querying pending link requests")
	}
	if reqs == nil {
		reqs = []link.GuardianLinkRequest{}
	}
	return ctx.JSON(http.StatusOK, reqs)
}

func (api *linkApi) capabilities(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	guardianID := core.CleanString(ctx.QueryParam("guardian_id"))
	studentID := core.CleanString(ctx.QueryParam("student_id"))
	if claims.Role == account.RoleGuardian {
		guardianID = claims.Subject
	}
	if guardianID == "" || studentID == "" {
		return core.NewValidationError(
			errors.New("guardian_id and student_id are required"),
			core.FieldError{Field: "guardian_id", Error: "this field is required"},
			core.FieldError{Field: "student_id", Error: "this field is required"},
		)
	}

	caps, err := api.svc.Capabilities(ctx.Request().Context(), guardianID, studentID)
	if err != nil {
		return errors.Wrap(err, "resolving capabilities")
	}
	return ctx.JSON(http.StatusOK, caps)
}

func (api *linkApi) history(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	entries, err := api.svc.History(ctx.Request().Context(), claims.SchoolID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying link history")
	}
	if entries == nil {
		entries = []link.AuditEntry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *linkApi) historyWorkbook(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	id := ctx.Param("id")
	entries, err := api.svc.History(ctx.Request().Context(), claims.SchoolID, id)
	if err != nil {
		return errors.Wrap(err, "querying link history")
	}

	f, err := export.NewAuditWorkbook(entries)
	if err != nil {
		return errors.Wrap(err, "building audit workbook")
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", "link-"+id+"-audit.xlsx"))
	ctx.Response().Header().Set(echo.HeaderContentType, xlsxContentType)
	ctx.Response().WriteHeader(http.StatusOK)
	return errors.Wrap(f.Write(ctx.Response()), "writing audit workbook")
}

func (api *linkApi) approve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var data link.ReviewLink
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReviewLink")
	}

	req, err := api.svc.Approve(ctx.Request().Context(), claims.actor(), claims.SchoolID, ctx.Param("id"), data)
	observe(link.ActionApproved, err)
	if err != nil {
		return errors.Wrap(err, "approving link request")
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *linkApi) confirm(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if _, err := api.getOwned(ctx, claims); err != nil {
		return err
	}

	var data link.ConfirmLink
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ConfirmLink")
	}

	req, err := api.svc.Confirm(ctx.Request().Context(), claims.actor(), claims.SchoolID, ctx.Param("id"), data)
	observe(link.ActionConfirmed, err)
	if err != nil {
		return errors.Wrap(err, "confirming link request")
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *linkApi) reject(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var data link.RejectLink
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RejectLink")
	}

	req, err := api.svc.Reject(ctx.Request().Context(), claims.actor(), claims.SchoolID, ctx.Param("id"), data)
	observe(link.ActionRejected, err)
	if err != nil {
		return errors.Wrap(err, "rejecting link request")
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *linkApi) revoke(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if _, err := api.getOwned(ctx, claims); err != nil {
		return err
	}

	var data link.RevokeLink
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RevokeLink")
	}

	req, err := api.svc.Revoke(ctx.Request().Context(), claims.actor(), claims.SchoolID, ctx.Param("id"), data)
	observe(link.ActionRevoked, err)
	if err != nil {
		return errors.Wrap(err, "revoking link")
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *linkApi) unlink(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var data link.UnlinkLink
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UnlinkLink")
	}

	req, err := api.svc.Unlink(ctx.Request().Context(), claims.actor(), claims.SchoolID, ctx.Param("id"), data)
	observe(link.ActionUnlinked, err)
	if err != nil {
		return errors.Wrap(err, "unlinking")
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *linkApi) retentions(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	tombs, err := api.svc.Retentions(ctx.Request().Context(), claims.SchoolID)
	if err != nil {
		return errors.Wrap(err, "querying retention records")
	}
	if tombs == nil {
		tombs = []link.Retention{}
	}
	return ctx.JSON(http.StatusOK, tombs)
}

func (api *linkApi) retention(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	tomb, err := api.svc.Retention(ctx.Request().Context(), claims.SchoolID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding retention record")
	}
	return ctx.JSON(http.StatusOK, tomb)
}

func (api *linkApi) recover(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var data link.RecoverLink
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RecoverLink")
	}

	req, err := api.svc.Recover(ctx.Request().Context(), claims.actor(), claims.SchoolID, ctx.Param("id"), data)
	observe(link.ActionRecovered, err)
	if err != nil {
		return errors.Wrap(err, "recovering link")
	}
	return ctx.JSON(http.StatusCreated, req)
}

func (api *linkApi) raiseIncident(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var data link.NewIncident
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewIncident")
	}
	data.SchoolID = claims.SchoolID

	inc, err := api.svc.RaiseIncident(ctx.Request().Context(), claims.actor(), data)
	if err != nil {
		return errors.Wrap(err, "raising incident")
	}
	metrics.IncidentsRaised.WithLabelValues(string(inc.Severity)).Inc()
	return ctx.JSON(http.StatusCreated, inc)
}

func (api *linkApi) incidents(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	incs, err := api.svc.Incidents(ctx.Request().Context(), claims.SchoolID)
	if err != nil {
		return errors.Wrap(err, "querying incidents")
	}
	if incs == nil {
		incs = []link.Incident{}
	}
	return ctx.JSON(http.StatusOK, incs)
}

func (api *linkApi) resolveIncident(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var data link.ResolveIncident
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResolveIncident")
	}

	inc, err := api.svc.ResolveIncident(ctx.Request().Context(), claims.actor(), claims.SchoolID, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "resolving incident")
	}
	return ctx.JSON(http.StatusOK, inc)
}
