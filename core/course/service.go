package course

import (
	"context"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/user"
)

var (
	// errors
	ErrNotFound         = errors.New("course not found")
	ErrMaterialNotFound = errors.New("material not found")
	ErrTitleExists      = errors.New("a course with this title already exists")
	ErrFeedbackExists   = errors.New("you already left feedback for this course")
	ErrNotEnrolled      = errors.New("only enrolled users can leave feedback")
	ErrBadDirection     = errors.New("direction must be one of up or down")
)

type (
	Repository interface {
		CheckTitleUniqueness(ctx context.Context, title string) error
		// CreateCourse also makes the creator a collaborator.
		CreateCourse(ctx context.Context, crs Course) (Course, error)
		GetCourse(ctx context.Context, id int) (Course, error)
		// QueryCourses returns courses ordered by title.
		QueryCourses(ctx context.Context, query CourseQuery) ([]Course, error)
		QueryCollaborators(ctx context.Context, courseID int) ([]int, error)
		IsCollaborator(ctx context.Context, courseID, userID int) (bool, error)

		// AddEnrollment reports whether userID was not enrolled yet.
		AddEnrollment(ctx context.Context, courseID, userID int) (bool, error)
		RemoveEnrollment(ctx context.Context, courseID, userID int) error
		IsEnrolled(ctx context.Context, courseID, userID int) (bool, error)
		QueryEnrolledUsers(ctx context.Context, courseID int) ([]int, error)

		// CreateMaterial places the material last in its course.
		CreateMaterial(ctx context.Context, mat Material) (Material, error)
		GetMaterial(ctx context.Context, id int) (Material, error)
		// QueryMaterials returns materials ordered by (order, id).
		QueryMaterials(ctx context.Context, courseID int) ([]Material, error)
		SwapMaterials(ctx context.Context, a, b Material) error
		DeleteMaterial(ctx context.Context, id int) error

		// CreateFeedback returns ErrFeedbackExists when the user already left one.
		CreateFeedback(ctx context.Context, fb Feedback) (Feedback, error)
		// QueryFeedbacks returns the newest feedbacks first.
		QueryFeedbacks(ctx context.Context, courseID int) ([]Feedback, error)
	}

	UserFinder interface {
		GetByID(ctx context.Context, id int) (user.User, error)
	}

	Service struct {
		repo     Repository
		users    UserFinder
		mailSvc  core.EmailService
		validate *validator.Validate
		logger   core.Logger
	}
)

func NewService(
	repo Repository,
	users UserFinder,
	mailSvc core.EmailService,
	validate *validator.Validate,
	logger core.Logger,
) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		mailSvc:  mailSvc,
		validate: validate,
		logger:   logger,
	}
}

func (svc *Service) Create(ctx context.Context, creator user.User, nc NewCourse) (Course, error) {
	nc.Clean()
	if err := svc.validate.Struct(nc); err != nil {
		return Course{}, err
	}
	if err := svc.repo.CheckTitleUniqueness(ctx, nc.Title); err != nil {
		if errors.Cause(err) == ErrTitleExists {
			return Course{}, core.NewValidationError(err, core.FieldError{Field: "title", Error: err.Error()})
		}
		return Course{}, err
	}

	now := time.Now().UTC()
	return svc.repo.CreateCourse(ctx, Course{
		Title:       nc.Title,
		Description: nc.Description,
		CreatorID:   creator.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *Service) Get(ctx context.Context, id int) (Course, error) {
	return svc.repo.GetCourse(ctx, id)
}

func (svc *Service) Overview(ctx context.Context, userID int) (Overview, error) {
	var (
		ov  Overview
		err error
	)
	if ov.All, err = svc.repo.QueryCourses(ctx, CourseQuery{}); err != nil {
		return Overview{}, errors.Wrap(err, "querying all courses")
	}
	if ov.Created, err = svc.repo.QueryCourses(ctx, CourseQuery{CreatorID: userID}); err != nil {
		return Overview{}, errors.Wrap(err, "querying created courses")
	}
	if ov.Collaborating, err = svc.repo.QueryCourses(ctx, CourseQuery{CollaboratorID: userID}); err != nil {
		return Overview{}, errors.Wrap(err, "querying collaborating courses")
	}
	if ov.Enrolled, err = svc.repo.QueryCourses(ctx, CourseQuery{EnrolledID: userID}); err != nil {
		return Overview{}, errors.Wrap(err, "querying enrolled courses")
	}
	return ov, nil
}

func (svc *Service) Detail(ctx context.Context, id, userID int) (Detail, error) {
	crs, err := svc.repo.GetCourse(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	d := Detail{Course: crs}
	if d.Collaborators, err = svc.repo.QueryCollaborators(ctx, id); err != nil {
		return Detail{}, errors.Wrap(err, "querying collaborators")
	}
	if d.IsEnrolled, err = svc.repo.IsEnrolled(ctx, id, userID); err != nil {
		return Detail{}, errors.Wrap(err, "checking enrollment")
	}
	for _, collabID := range d.Collaborators {
		if collabID == userID {
			d.IsCollaborator = true
			break
		}
	}
	if d.Materials, err = svc.repo.QueryMaterials(ctx, id); err != nil {
		return Detail{}, errors.Wrap(err, "querying materials")
	}
	if d.Feedbacks, err = svc.repo.QueryFeedbacks(ctx, id); err != nil {
		return Detail{}, errors.Wrap(err, "querying feedbacks")
	}
	d.CanReview = d.IsEnrolled
	for _, fb := range d.Feedbacks {
		if fb.UserID == userID {
			d.CanReview = false
			break
		}
	}
	return d, nil
}

// CanTeach reports whether usr may manage the materials of crs.
func (svc *Service) CanTeach(ctx context.Context, crs Course, usr user.User) (bool, error) {
	if usr.IsAdmin() {
		return true, nil
	}
	if !usr.IsTeacher() {
		return false, nil
	}
	return svc.repo.IsCollaborator(ctx, crs.ID, usr.ID)
}

// Enroll is idempotent; the course creator is notified of new enrollments.
func (svc *Service) Enroll(ctx context.Context, crs Course, usr user.User) error {
	added, err := svc.repo.AddEnrollment(ctx, crs.ID, usr.ID)
	if err != nil {
		return err
	}
	if added {
		svc.notifyEnrollment(ctx, crs, usr)
	}
	return nil
}

func (svc *Service) Disenroll(ctx context.Context, crs Course, usr user.User) error {
	return svc.repo.RemoveEnrollment(ctx, crs.ID, usr.ID)
}

func (svc *Service) AddMaterial(ctx context.Context, crs Course, nm NewMaterial) (Material, error) {
	nm.Clean()
	if err := svc.validate.Struct(nm); err != nil {
		return Material{}, err
	}
	mat, err := svc.repo.CreateMaterial(ctx, Material{
		CourseID:  crs.ID,
		Title:     nm.Title,
		Content:   nm.Content,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return Material{}, err
	}
	svc.notifyNewMaterial(ctx, crs, mat)
	return mat, nil
}

func (svc *Service) GetMaterial(ctx context.Context, id int) (Material, error) {
	return svc.repo.GetMaterial(ctx, id)
}

func (svc *Service) DeleteMaterial(ctx context.Context, mat Material) error {
	return svc.repo.DeleteMaterial(ctx, mat.ID)
}

// MoveMaterial swaps the order of mat with its neighbour in direction; it is a no-op at either end.
func (svc *Service) MoveMaterial(ctx context.Context, mat Material, direction string) error {
	if direction != MoveUp && direction != MoveDown {
		return core.NewValidationError(ErrBadDirection, core.FieldError{Field: "direction", Error: ErrBadDirection.Error()})
	}
	mats, err := svc.repo.QueryMaterials(ctx, mat.CourseID)
	if err != nil {
		return errors.Wrap(err, "querying materials")
	}

	idx := -1
	for i, m := range mats {
		if m.ID == mat.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrMaterialNotFound
	}

	neighbour := idx - 1
	if direction == MoveDown {
		neighbour = idx + 1
	}
	if neighbour < 0 || neighbour >= len(mats) {
		return nil
	}
	return svc.repo.SwapMaterials(ctx, mats[idx], mats[neighbour])
}

func (svc *Service) AddFeedback(ctx context.Context, crs Course, usr user.User, nf NewFeedback) (Feedback, error) {
	nf.Comment = core.CleanString(nf.Comment)
	if err := svc.validate.Struct(nf); err != nil {
		return Feedback{}, err
	}
	enrolled, err := svc.repo.IsEnrolled(ctx, crs.ID, usr.ID)
	if err != nil {
		return Feedback{}, errors.Wrap(err, "checking enrollment")
	}
	if !enrolled {
		return Feedback{}, core.NewValidationError(ErrNotEnrolled)
	}

	fb, err := svc.repo.CreateFeedback(ctx, Feedback{
		CourseID:  crs.ID,
		UserID:    usr.ID,
		Rating:    nf.Rating,
		Comment:   nf.Comment,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Cause(err) == ErrFeedbackExists {
			return Feedback{}, core.NewValidationError(err)
		}
		return Feedback{}, err
	}
	return fb, nil
}

func (svc *Service) notifyEnrollment(ctx context.Context, crs Course, student user.User) {
	creator, err := svc.users.GetByID(ctx, crs.CreatorID)
	if err != nil {
		svc.logger.Error("finding course creator", errors.Wrap(err, "notifying enrollment"))
		return
	}
	if creator.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: creator.Name, Address: creator.Email}},
		Subject:      "New enrollment in " + crs.Title,
		TemplateName: "course_enrollment",
		TemplateData: enrollmentData{
			CourseID:    crs.ID,
			CourseTitle: crs.Title,
			StudentName: student.DisplayName(),
		},
	})
}

func (svc *Service) notifyNewMaterial(ctx context.Context, crs Course, mat Material) {
	ids, err := svc.repo.QueryEnrolledUsers(ctx, crs.ID)
	if err != nil {
		svc.logger.Error("querying enrolled users", errors.Wrap(err, "notifying new material"))
		return
	}

	data := newMaterialData{CourseID: crs.ID, CourseTitle: crs.Title, MaterialTitle: mat.Title}
	messages := make([]*core.EmailMessage, 0, len(ids))
	for _, id := range ids {
		usr, err := svc.users.GetByID(ctx, id)
		if err != nil || usr.Email == "" {
			continue
		}
		messages = append(messages, &core.EmailMessage{
			To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
			Subject:      "New material in " + crs.Title,
			TemplateName: "new_material",
			TemplateData: data,
		})
	}
	if len(messages) > 0 {
		svc.mailSvc.SendMessages(messages...)
	}
}
