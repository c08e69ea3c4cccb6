package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/GeneralTask/task-manager-sub001/domain"
	"github.com/GeneralTask/task-manager-sub001/workspace"
)

const (
	maxBodySize = 1 << 20
	// TimezoneHeader is the client offset from UTC in minutes, positive west
	// of Greenwich.
	TimezoneHeader = "Timezone-Offset"
)

// Options carries the optional collaborators of Register.
type Options struct {
	Deduper Deduper
	Audit   *AuditSender
	NewID   func() string
	Now     func() time.Time
}

type deps struct {
	store  Workspaces
	auth   Authenticator
	logger *log.Logger
	Options
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Workspaces, auth Authenticator, logger *log.Logger, opts Options) {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	d := deps{store: store, auth: auth, logger: logger, Options: opts}

	e.JSONSerializer = SonicSerializer{}
	e.Use(RequestMetrics(logger), GzipRequestMiddleware())

	e.GET("/healthz", healthz())

	e.GET("/overview/views/", listViews(d))
	e.POST("/overview/views/", addView(d))
	e.PATCH("/overview/views/", reorderViews(d))
	e.PATCH("/overview/views/:id/", reorderView(d))
	e.DELETE("/overview/views/:id/", removeView(d))
	e.GET("/overview/supported_views/", supportedViews(d))

	e.GET("/sections/v2/", listFolders(d))
	e.POST("/sections/create/", createFolder(d))
	e.PATCH("/sections/modify/:id/", modifyFolder(d))
	e.DELETE("/sections/delete/:id/", deleteFolder(d))

	e.POST("/tasks/create/gt_task/", createTask(d))
	e.PATCH("/tasks/modify/:id/", modifyTask(d))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func listViews(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ws, err := d.load(c)
		if err != nil {
			return d.fail(c, err)
		}
		return c.JSON(http.StatusOK, ws.Render(localNow(c, d.Now())))
	}
}

func supportedViews(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ws, err := d.load(c)
		if err != nil {
			return d.fail(c, err)
		}
		return c.JSON(http.StatusOK, ws.Supported())
	}
}

func addView(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.authenticate(c)
		if err != nil {
			return d.fail(c, err)
		}
		var req domain.AddViewRequest
		if err := decodeBody(c, &req); err != nil {
			return d.badRequest(c, err)
		}
		return d.create(c, userID, func() (string, error) {
			id := d.NewID()
			_, err := d.mutate(c, userID, "view.add", id, func(ws workspace.Workspace) (workspace.Workspace, error) {
				v, err := workspace.NewView(id, req.Type, req.TaskSectionID, ws.Folders)
				if err != nil {
					return ws, err
				}
				ws.Views, err = workspace.AddView(ws.Views, v)
				return ws, err
			})
			return id, err
		}, func(id string) error {
			return c.JSON(http.StatusOK, domain.CreatedResponse{ID: id})
		})
	}
}

func reorderViews(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.authenticate(c)
		if err != nil {
			return d.fail(c, err)
		}
		var req domain.ReorderViewsRequest
		if err := decodeBody(c, &req); err != nil {
			return d.badRequest(c, err)
		}
		_, err = d.mutate(c, userID, "view.reorder_all", "", func(ws workspace.Workspace) (workspace.Workspace, error) {
			views, err := workspace.ReorderViews(ws.Views, req.OrderedViewIDs)
			ws.Views = views
			return ws, err
		})
		if err != nil {
			return d.fail(c, err)
		}
		return c.JSON(http.StatusOK, struct{}{})
	}
}

func reorderView(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.authenticate(c)
		if err != nil {
			return d.fail(c, err)
		}
		var req domain.ReorderViewRequest
		if err := decodeBody(c, &req); err != nil {
			return d.badRequest(c, err)
		}
		id := c.Param("id")
		_, err = d.mutate(c, userID, "view.reorder", id, func(ws workspace.Workspace) (workspace.Workspace, error) {
			views, err := workspace.MoveView(ws.Views, id, req.IDOrdering)
			ws.Views = views
			return ws, err
		})
		if err != nil {
			return d.fail(c, err)
		}
		return c.JSON(http.StatusOK, struct{}{})
	}
}

func removeView(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.authenticate(c)
		if err != nil {
			return d.fail(c, err)
		}
		id := c.Param("id")
		_, err = d.mutate(c, userID, "view.remove", id, func(ws workspace.Workspace) (workspace.Workspace, error) {
			views, err := workspace.RemoveView(ws.Views, id)
			ws.Views = views
			return ws, err
		})
		if err != nil {
			return d.fail(c, err)
		}
		return c.JSON(http.StatusOK, struct{}{})
	}
}

func listFolders(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ws, err := d.load(c)
		if err != nil {
			return d.fail(c, err)
		}
		return c.JSON(http.StatusOK, ws.Folders)
	}
}

func createFolder(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.authenticate(c)
		if err != nil {
			return d.fail(c, err)
		}
		var req domain.CreateFolderRequest
		if err := decodeBody(c, &req); err != nil {
			return d.badRequest(c, err)
		}
		return d.create(c, userID, func() (string, error) {
			id := d.NewID()
			_, err := d.mutate(c, userID, "folder.create", id, func(ws workspace.Workspace) (workspace.Workspace, error) {
				folders, err := workspace.AddFolder(ws.Folders, domain.Folder{ID: id, Name: req.Name}, req.IDOrdering)
				ws.Folders = folders
				return ws, err
			})
			return id, err
		}, func(id string) error {
			return c.JSON(http.StatusOK, domain.CreatedResponse{ID: id})
		})
	}
}

func modifyFolder(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.authenticate(c)
		if err != nil {
			return d.fail(c, err)
		}
		var req domain.FolderModify
		if err := decodeBody(c, &req); err != nil {
			return d.badRequest(c, err)
		}
		id := c.Param("id")
		_, err = d.mutate(c, userID, "folder.modify", id, func(ws workspace.Workspace) (workspace.Workspace, error) {
			folders, err := workspace.ModifyFolder(ws.Folders, id, req)
			ws.Folders = folders
			return ws, err
		})
		if err != nil {
			return d.fail(c, err)
		}
		return c.JSON(http.StatusOK, struct{}{})
	}
}

func deleteFolder(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.authenticate(c)
		if err != nil {
			return d.fail(c, err)
		}
		id := c.Param("id")
		_, err = d.mutate(c, userID, "folder.delete", id, func(ws workspace.Workspace) (workspace.Workspace, error) {
			folders, err := workspace.RemoveFolder(ws.Folders, id)
			if err != nil {
				return ws, err
			}
			ws.Folders = folders
			ws.Views = workspace.DropViewsOf(ws.Views, folders)
			return ws, nil
		})
		if err != nil {
			return d.fail(c, err)
		}
		return c.JSON(http.StatusOK, struct{}{})
	}
}

func createTask(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.authenticate(c)
		if err != nil {
			return d.fail(c, err)
		}
		var req domain.CreateTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return d.badRequest(c, err)
		}
		if strings.TrimSpace(req.Title) == "" {
			return d.badRequest(c, errors.New("title cannot be empty"))
		}
		return d.create(c, userID, func() (string, error) {
			id := d.NewID()
			_, err := d.mutate(c, userID, "task.create", id, func(ws workspace.Workspace) (workspace.Workspace, error) {
				folders, err := workspace.InsertTask(ws.Folders, req.IDTaskSection, domain.ViewItem{
					ID:     id,
					Title:  req.Title,
					Body:   req.Body,
					Source: domain.Source{Name: "General Task", Logo: "generaltask", IsCompletable: true},
				})
				ws.Folders = folders
				return ws, err
			})
			return id, err
		}, func(id string) error {
			return c.JSON(http.StatusOK, domain.CreateTaskResponse{TaskID: id})
		})
	}
}

func modifyTask(d deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.authenticate(c)
		if err != nil {
			return d.fail(c, err)
		}
		var req domain.TaskModify
		if err := decodeBody(c, &req); err != nil {
			return d.badRequest(c, err)
		}
		id := c.Param("id")
		_, err = d.mutate(c, userID, "task.modify", id, func(ws workspace.Workspace) (workspace.Workspace, error) {
			folders, err := workspace.ApplyTaskModify(ws.Folders, id, req)
			ws.Folders = folders
			return ws, err
		})
		if err != nil {
			return d.fail(c, err)
		}
		return c.JSON(http.StatusOK, struct{}{})
	}
}

type authError struct{ err error }

func (e authError) Error() string { return e.err.Error() }
func (e authError) Unwrap() error { return e.err }

func (d deps) authenticate(c echo.Context) (string, error) {
	start := time.Now()
	userID, err := d.auth.UserIDFromAuthHeader(authHeader(c.Request()))
	m := metricsFrom(c)
	m.ObserveAuth(time.Since(start))
	if err != nil {
		return "", authError{err}
	}
	m.SetUser(userID)
	return userID, nil
}

func (d deps) load(c echo.Context) (workspace.Workspace, error) {
	userID, err := d.authenticate(c)
	if err != nil {
		return workspace.Workspace{}, err
	}
	start := time.Now()
	ws, err := d.store.Get(c.Request().Context(), userID)
	metricsFrom(c).ObserveStore(time.Since(start))
	return ws, err
}

// mutate applies fn to the workspace of userID and audits the change.
func (d deps) mutate(c echo.Context, userID, op, target string, fn func(workspace.Workspace) (workspace.Workspace, error)) (workspace.Workspace, error) {
	start := time.Now()
	ws, err := d.store.Update(c.Request().Context(), userID, fn)
	metricsFrom(c).ObserveStore(time.Since(start))
	if err != nil {
		return ws, err
	}
	d.Audit.Send(domain.AuditEvent{UserID: userID, Op: op, Target: target, At: d.Now().UTC()})
	return ws, nil
}

// create runs a create request at most once per idempotency key. Repeated
// requests are answered with the id of the first one.
func (d deps) create(c echo.Context, userID string, run func() (string, error), respond func(id string) error) error {
	key := c.Request().Header.Get(domain.IdempotencyKeyHeader)
	if key == "" || d.Deduper == nil {
		id, err := run()
		if err != nil {
			return d.fail(c, err)
		}
		return respond(id)
	}

	ctx := c.Request().Context()
	claimed, err := d.Deduper.Claim(ctx, userID, key)
	if err != nil {
		metricsFrom(c).SetErrorStage("dedupe")
		d.logger.WithError(err).WithField("user_id", userID).Error("idempotency claim failed")
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Detail: "failed to record idempotency key"})
	}
	if !claimed {
		id, err := d.Deduper.Lookup(ctx, userID, key)
		if err != nil {
			metricsFrom(c).SetErrorStage("dedupe")
			return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Detail: "failed to read idempotency key"})
		}
		if id == "" {
			metricsFrom(c).SetErrorStage("duplicate")
			return c.JSON(http.StatusConflict, domain.ErrorResponse{Detail: "request with this idempotency key is in progress"})
		}
		return respond(id)
	}

	id, err := run()
	if err != nil {
		if rerr := d.Deduper.Remove(context.WithoutCancel(ctx), userID, key); rerr != nil {
			d.logger.WithError(rerr).WithField("user_id", userID).Error("idempotency rollback failed")
		}
		return d.fail(c, err)
	}
	if err := d.Deduper.Complete(context.WithoutCancel(ctx), userID, key, id); err != nil {
		d.logger.WithError(err).WithField("user_id", userID).Error("idempotency completion failed")
	}
	return respond(id)
}

func (d deps) badRequest(c echo.Context, err error) error {
	metricsFrom(c).SetErrorStage("decode")
	return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Detail: err.Error()})
}

// fail maps err to a status code and writes it as an error body.
func (d deps) fail(c echo.Context, err error) error {
	m := metricsFrom(c)
	var ae authError
	if errors.As(err, &ae) {
		m.SetErrorStage("auth")
		return c.JSON(http.StatusUnauthorized, domain.ErrorResponse{Detail: ae.Error()})
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		m.SetErrorStage("storage")
		d.logger.WithError(err).WithField("route", c.Path()).Error("request failed")
		return c.JSON(status, domain.ErrorResponse{Detail: "internal error"})
	}
	m.SetErrorStage("validation")
	return c.JSON(status, domain.ErrorResponse{Detail: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrProtectedList),
		errors.Is(err, workspace.ErrInvalid),
		errors.Is(err, workspace.ErrDuplicate):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// localNow shifts now by the client's Timezone-Offset header. Missing or
// malformed offsets leave it in UTC.
func localNow(c echo.Context, now time.Time) time.Time {
	now = now.UTC()
	raw := c.Request().Header.Get(TimezoneHeader)
	if raw == "" {
		return now
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || minutes < -24*60 || minutes > 24*60 {
		return now
	}
	return now.Add(-time.Duration(minutes) * time.Minute)
}
