package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/course"
	"github.com/trezcool/elearn/core/user"
)

const coursesPath = "/v1/courses"

func coursePath(id int) string {
	return coursesPath + "/" + strconv.Itoa(id)
}

type courseApi struct {
	usrSvc *user.Service
	svc    *course.Service
}

func registerCourseAPI(g *echo.Group, auth []echo.MiddlewareFunc, usrSvc *user.Service, svc *course.Service) {
	api := courseApi{
		usrSvc: usrSvc,
		svc:    svc,
	}

	cg := g.Group("/courses", auth...)
	cg.GET("", api.overview)
	cg.POST("", api.create, teacherMiddleware())
	cg.GET("/:id", api.retrieve)
	cg.POST("/:id/enroll", api.enroll)
	cg.POST("/:id/disenroll", api.disenroll)
	cg.POST("/:id/materials", api.addMaterial, teacherMiddleware())
	cg.POST("/:id/feedbacks", api.addFeedback)

	mg := g.Group("/materials", auth...)
	mg.GET("/:id", api.retrieveMaterial)
	mg.DELETE("/:id", api.destroyMaterial, teacherMiddleware())
	mg.POST("/:id/move", api.moveMaterial, teacherMiddleware())
}

func (api *courseApi) contextCourse(ctx echo.Context) (course.Course, error) {
	id, err := paramID(ctx, "id")
	if err != nil {
		return course.Course{}, err
	}
	crs, err := api.svc.Get(ctx.Request().Context(), id)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "getting course")
	}
	return crs, nil
}

func (api *courseApi) contextMaterial(ctx echo.Context) (course.Material, error) {
	id, err := paramID(ctx, "id")
	if err != nil {
		return course.Material{}, err
	}
	mat, err := api.svc.GetMaterial(ctx.Request().Context(), id)
	if err != nil {
		return course.Material{}, errors.Wrap(err, "getting material")
	}
	return mat, nil
}

// checkCanTeach answers 403 unless usr manages the materials of crs.
func (api *courseApi) checkCanTeach(ctx echo.Context, crs course.Course, usr user.User) error {
	ok, err := api.svc.CanTeach(ctx.Request().Context(), crs, usr)
	if err != nil {
		return errors.Wrap(err, "checking course teachers")
	}
	if !ok {
		return errHttpForbidden
	}
	return nil
}

// Handlers

func (api *courseApi) overview(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	ov, err := api.svc.Overview(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "getting courses overview")
	}
	return ctx.JSON(http.StatusOK, ov)
}

func (api *courseApi) create(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data course.NewCourse
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	crs, err := api.svc.Create(ctx.Request().Context(), usr, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, crs)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	detail, err := api.svc.Detail(ctx.Request().Context(), id, usr.ID)
	if err != nil {
		return errors.Wrap(err, "getting course detail")
	}
	return ctx.JSON(http.StatusOK, detail)
}

func (api *courseApi) enroll(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	crs, err := api.contextCourse(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Enroll(ctx.Request().Context(), crs, usr); err != nil {
		return errors.Wrap(err, "enrolling")
	}
	return ctx.Redirect(http.StatusFound, coursePath(crs.ID))
}

func (api *courseApi) disenroll(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	crs, err := api.contextCourse(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Disenroll(ctx.Request().Context(), crs, usr); err != nil {
		return errors.Wrap(err, "disenrolling")
	}
	return ctx.Redirect(http.StatusFound, coursePath(crs.ID))
}

func (api *courseApi) addMaterial(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	crs, err := api.contextCourse(ctx)
	if err != nil {
		return err
	}
	if err = api.checkCanTeach(ctx, crs, usr); err != nil {
		return err
	}

	var data course.NewMaterial
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMaterial")
	}
	mat, err := api.svc.AddMaterial(ctx.Request().Context(), crs, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, mat)
}

func (api *courseApi) addFeedback(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	crs, err := api.contextCourse(ctx)
	if err != nil {
		return err
	}

	var data course.NewFeedback
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewFeedback")
	}
	fb, err := api.svc.AddFeedback(ctx.Request().Context(), crs, usr, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, fb)
}

func (api *courseApi) retrieveMaterial(ctx echo.Context) error {
	mat, err := api.contextMaterial(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, mat)
}

func (api *courseApi) destroyMaterial(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	mat, err := api.contextMaterial(ctx)
	if err != nil {
		return err
	}
	crs, err := api.svc.Get(ctx.Request().Context(), mat.CourseID)
	if err != nil {
		return errors.Wrap(err, "getting course")
	}
	if err = api.checkCanTeach(ctx, crs, usr); err != nil {
		return err
	}

	if err = api.svc.DeleteMaterial(ctx.Request().Context(), mat); err != nil {
		return errors.Wrap(err, "deleting material")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *courseApi) moveMaterial(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	mat, err := api.contextMaterial(ctx)
	if err != nil {
		return err
	}
	crs, err := api.svc.Get(ctx.Request().Context(), mat.CourseID)
	if err != nil {
		return errors.Wrap(err, "getting course")
	}
	if err = api.checkCanTeach(ctx, crs, usr); err != nil {
		return err
	}

	var data MoveRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MoveRequest")
	}
	direction := core.CleanString(data.Direction, true /* lower */)
	if err = api.svc.MoveMaterial(ctx.Request().Context(), mat, direction); err != nil {
		return err
	}
	return ctx.Redirect(http.StatusFound, coursePath(crs.ID))
}

type MoveRequest struct {
	Direction string `json:"direction" form:"direction"`
}
