package echoapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/karibu/core"
	"github.com/trezcool/karibu/core/progress"
)

type progressApi struct {
	svc       *progress.Service
	modCat    progress.ModuleCatalog
	notifRepo core.NotificationRepository
	logger    core.Logger
}

func registerProgressAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := progressApi{
		svc:       opts.ProgressSvc,
		modCat:    opts.ModCat,
		notifRepo: opts.NotifRepo,
		logger:    opts.Logger,
	}

	pg := g.Group("/progress", jwt)

	pg.GET("", api.dashboard)
	pg.POST("/reconcile", api.reconcile)
	pg.POST("/modules/:id/complete", api.completeModule)
	pg.POST("/quizzes/:id/complete", api.completeQuiz)
	pg.POST("/badges/:id", api.grantBadge)
	pg.GET("/certificate", api.certificate)
	pg.POST("/feedback-ack", api.ackFeedback)
	pg.GET("/notifications", api.notifications)
}

// Handlers

// dashboard returns the user's progress record, reconciling badge eligibility
// on the way in (the "session start" hook); a failed reconciliation is
// logged and retried on the next load.
func (api *progressApi) dashboard(ctx echo.Context) error {
	userID, err := getContextUserID(ctx)
	if err != nil {
		return err
	}

	c := ctx.Request().Context()
	if err := api.svc.Reconcile(c, userID); err != nil {
		if errors.Cause(err) != progress.ErrRecordNotFound {
			api.logger.Warn(fmt.Sprintf("reconciliation deferred for user %s: %v", userID, err))
		}
	}

	rec, err := api.svc.GetRecord(c, userID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *progressApi) reconcile(ctx echo.Context) error {
	userID, err := getContextUserID(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Reconcile(ctx.Request().Context(), userID); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *progressApi) completeModule(ctx echo.Context) error {
	userID, err := getContextUserID(ctx)
	if err != nil {
		return err
	}
	moduleID, err := itemID(ctx)
	if err != nil {
		return err
	}
	data, err := bindItemRequest(ctx)
	if err != nil {
		return err
	}

	c := ctx.Request().Context()
	points := data.PointValue
	if mod, ok := api.lookupModule(c, moduleID); ok {
		points = mod.Points // the catalog value wins
	}

	out, err := api.svc.MarkModuleDone(c, userID, moduleID, points)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, newOutcomeResponse(out))
}

func (api *progressApi) completeQuiz(ctx echo.Context) error {
	userID, err := getContextUserID(ctx)
	if err != nil {
		return err
	}
	quizID, err := itemID(ctx)
	if err != nil {
		return err
	}
	data, err := bindItemRequest(ctx)
	if err != nil {
		return err
	}

	out, err := api.svc.MarkQuizDone(ctx.Request().Context(), userID, quizID, data.PointValue)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, newOutcomeResponse(out))
}

func (api *progressApi) grantBadge(ctx echo.Context) error {
	userID, err := getContextUserID(ctx)
	if err != nil {
		return err
	}
	badgeID, err := itemID(ctx)
	if err != nil {
		return err
	}

	out, err := api.svc.GrantBadge(ctx.Request().Context(), userID, badgeID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, newOutcomeResponse(out))
}

func (api *progressApi) certificate(ctx echo.Context) error {
	userID, err := getContextUserID(ctx)
	if err != nil {
		return err
	}
	cert, err := api.svc.GetCertificate(ctx.Request().Context(), userID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, cert)
}

func (api *progressApi) ackFeedback(ctx echo.Context) error {
	userID, err := getContextUserID(ctx)
	if err != nil {
		return err
	}
	out, err := api.svc.AcknowledgeFeedbackPrompt(ctx.Request().Context(), userID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, newOutcomeResponse(out))
}

func (api *progressApi) notifications(ctx echo.Context) error {
	userID, err := getContextUserID(ctx)
	if err != nil {
		return err
	}
	notifs, err := api.notifRepo.QueryUserNotifications(ctx.Request().Context(), userID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, notifs)
}

func (api *progressApi) lookupModule(ctx context.Context, moduleID string) (progress.Module, bool) {
	mods, err := api.modCat.Modules(ctx)
	if err != nil {
		// unknown-to-the-catalog is fine for the mutation itself;
		// completion checks defer on their own
		api.logger.Warn(fmt.Sprintf("module catalog lookup failed: %v", err))
		return progress.Module{}, false
	}
	for _, m := range mods {
		if m.ID == moduleID {
			return m, true
		}
	}
	return progress.Module{}, false
}
