package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/elearn/core"
	"github.com/trezcool/elearn/core/course"
)

const (
	courseColumns   = "c.id, c.title, c.description, c.creator_id, c.created_at, c.updated_at"
	materialColumns = "id, course_id, title, content, position, created_at"
	feedbackColumns = "id, course_id, user_id, rating, comment, created_at"
)

type courseRepository struct {
	db core.DB
}

var _ course.Repository = (*courseRepository)(nil)

func NewCourseRepository(db core.DB) course.Repository {
	return &courseRepository{db: db}
}

func courseExists(ctx context.Context, db core.DBExecutor, courseID int) error {
	n, err := count(ctx, db, "SELECT COUNT(*) FROM course WHERE id = ?", courseID)
	if err != nil {
		return errors.Wrap(err, "checking course")
	}
	if n == 0 {
		return course.ErrNotFound
	}
	return nil
}

func (repo *courseRepository) CheckTitleUniqueness(ctx context.Context, title string) error {
	n, err := count(ctx, repo.db, "SELECT COUNT(*) FROM course WHERE title = ?", title)
	if err != nil {
		return errors.Wrap(err, "checking title")
	}
	if n > 0 {
		return course.ErrTitleExists
	}
	return nil
}

func (repo *courseRepository) CreateCourse(ctx context.Context, crs course.Course) (course.Course, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := "INSERT INTO course (title, description, creator_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?) RETURNING id"
		id, err := insertReturningID(ctx, tx, q, crs.Title, crs.Description, crs.CreatorID, crs.CreatedAt, crs.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, "inserting course")
		}
		crs.ID = id
		q = "INSERT INTO course_collaborator (course_id, user_id) VALUES (?, ?)"
		_, err = tx.ExecContext(ctx, tx.Rebind(q), crs.ID, crs.CreatorID)
		return errors.Wrap(err, "adding creator as collaborator")
	})
	if err != nil {
		return course.Course{}, err
	}
	return crs, nil
}

func (repo *courseRepository) GetCourse(ctx context.Context, id int) (course.Course, error) {
	var crs course.Course
	q := "SELECT " + courseColumns + " FROM course c WHERE c.id = ?"
	if err := repo.db.GetContext(ctx, &crs, repo.db.Rebind(q), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "getting course")
	}
	crs.CreatedAt, crs.UpdatedAt = crs.CreatedAt.UTC(), crs.UpdatedAt.UTC()
	return crs, nil
}

func (repo *courseRepository) QueryCourses(ctx context.Context, query course.CourseQuery) ([]course.Course, error) {
	var (
		where []string
		args  []interface{}
	)
	if query.CreatorID != 0 {
		where = append(where, "c.creator_id = ?")
		args = append(args, query.CreatorID)
	}
	if query.CollaboratorID != 0 {
		where = append(where, "EXISTS (SELECT 1 FROM course_collaborator cc WHERE cc.course_id = c.id AND cc.user_id = ?)")
		args = append(args, query.CollaboratorID)
	}
	if query.EnrolledID != 0 {
		where = append(where, "EXISTS (SELECT 1 FROM course_enrollment ce WHERE ce.course_id = c.id AND ce.user_id = ?)")
		args = append(args, query.EnrolledID)
	}

	q := "SELECT " + courseColumns + " FROM course c"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY c.title"

	courses := make([]course.Course, 0)
	if err := repo.db.SelectContext(ctx, &courses, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	for i := range courses {
		courses[i].CreatedAt, courses[i].UpdatedAt = courses[i].CreatedAt.UTC(), courses[i].UpdatedAt.UTC()
	}
	return courses, nil
}

func (repo *courseRepository) QueryCollaborators(ctx context.Context, courseID int) ([]int, error) {
	ids, err := queryIDs(ctx, repo.db, "SELECT user_id FROM course_collaborator WHERE course_id = ? ORDER BY user_id", courseID)
	return ids, errors.Wrap(err, "querying collaborators")
}

func (repo *courseRepository) IsCollaborator(ctx context.Context, courseID, userID int) (bool, error) {
	n, err := count(ctx, repo.db, "SELECT COUNT(*) FROM course_collaborator WHERE course_id = ? AND user_id = ?", courseID, userID)
	if err != nil {
		return false, errors.Wrap(err, "checking collaborator")
	}
	return n > 0, nil
}

func (repo *courseRepository) AddEnrollment(ctx context.Context, courseID, userID int) (bool, error) {
	var added bool
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if err := courseExists(ctx, tx, courseID); err != nil {
			return err
		}
		q := "INSERT INTO course_enrollment (course_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING"
		res, err := tx.ExecContext(ctx, tx.Rebind(q), courseID, userID)
		if err != nil {
			return errors.Wrap(err, "adding enrollment")
		}
		n, err := res.RowsAffected()
		added = n > 0
		return err
	})
	return added, err
}

func (repo *courseRepository) RemoveEnrollment(ctx context.Context, courseID, userID int) error {
	q := "DELETE FROM course_enrollment WHERE course_id = ? AND user_id = ?"
	_, err := repo.db.ExecContext(ctx, repo.db.Rebind(q), courseID, userID)
	return errors.Wrap(err, "removing enrollment")
}

func (repo *courseRepository) IsEnrolled(ctx context.Context, courseID, userID int) (bool, error) {
	n, err := count(ctx, repo.db, "SELECT COUNT(*) FROM course_enrollment WHERE course_id = ? AND user_id = ?", courseID, userID)
	if err != nil {
		return false, errors.Wrap(err, "checking enrollment")
	}
	return n > 0, nil
}

func (repo *courseRepository) QueryEnrolledUsers(ctx context.Context, courseID int) ([]int, error) {
	ids, err := queryIDs(ctx, repo.db, "SELECT user_id FROM course_enrollment WHERE course_id = ? ORDER BY user_id", courseID)
	return ids, errors.Wrap(err, "querying enrolled users")
}

func (repo *courseRepository) CreateMaterial(ctx context.Context, mat course.Material) (course.Material, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if err := courseExists(ctx, tx, mat.CourseID); err != nil {
			return err
		}
		last, err := count(ctx, tx, "SELECT COALESCE(MAX(position), 0) FROM course_material WHERE course_id = ?", mat.CourseID)
		if err != nil {
			return errors.Wrap(err, "getting last position")
		}
		mat.Order = last + 1

		q := "INSERT INTO course_material (course_id, title, content, position, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id"
		mat.ID, err = insertReturningID(ctx, tx, q, mat.CourseID, mat.Title, mat.Content, mat.Order, mat.CreatedAt)
		return errors.Wrap(err, "inserting material")
	})
	if err != nil {
		return course.Material{}, err
	}
	return mat, nil
}

func (repo *courseRepository) GetMaterial(ctx context.Context, id int) (course.Material, error) {
	var mat course.Material
	q := "SELECT " + materialColumns + " FROM course_material WHERE id = ?"
	if err := repo.db.GetContext(ctx, &mat, repo.db.Rebind(q), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return course.Material{}, course.ErrMaterialNotFound
		}
		return course.Material{}, errors.Wrap(err, "getting material")
	}
	mat.CreatedAt = mat.CreatedAt.UTC()
	return mat, nil
}

func (repo *courseRepository) QueryMaterials(ctx context.Context, courseID int) ([]course.Material, error) {
	q := "SELECT " + materialColumns + " FROM course_material WHERE course_id = ? ORDER BY position, id"
	mats := make([]course.Material, 0)
	if err := repo.db.SelectContext(ctx, &mats, repo.db.Rebind(q), courseID); err != nil {
		return nil, errors.Wrap(err, "querying materials")
	}
	for i := range mats {
		mats[i].CreatedAt = mats[i].CreatedAt.UTC()
	}
	return mats, nil
}

func (repo *courseRepository) SwapMaterials(ctx context.Context, a, b course.Material) error {
	return withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := tx.Rebind("UPDATE course_material SET position = ? WHERE id = ?")
		for _, upd := range [][2]int{{b.Order, a.ID}, {a.Order, b.ID}} {
			res, err := tx.ExecContext(ctx, q, upd[0], upd[1])
			if err != nil {
				return errors.Wrap(err, "updating material position")
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return course.ErrMaterialNotFound
			}
		}
		return nil
	})
}

func (repo *courseRepository) DeleteMaterial(ctx context.Context, id int) error {
	_, err := repo.db.ExecContext(ctx, repo.db.Rebind("DELETE FROM course_material WHERE id = ?"), id)
	return errors.Wrap(err, "deleting material")
}

func (repo *courseRepository) CreateFeedback(ctx context.Context, fb course.Feedback) (course.Feedback, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		n, err := count(ctx, tx, "SELECT COUNT(*) FROM course_feedback WHERE course_id = ? AND user_id = ?", fb.CourseID, fb.UserID)
		if err != nil {
			return errors.Wrap(err, "checking feedback")
		}
		if n > 0 {
			return course.ErrFeedbackExists
		}
		q := "INSERT INTO course_feedback (course_id, user_id, rating, comment, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id"
		fb.ID, err = insertReturningID(ctx, tx, q, fb.CourseID, fb.UserID, fb.Rating, fb.Comment, fb.CreatedAt)
		return errors.Wrap(err, "inserting feedback")
	})
	if err != nil {
		return course.Feedback{}, err
	}
	return fb, nil
}

func (repo *courseRepository) QueryFeedbacks(ctx context.Context, courseID int) ([]course.Feedback, error) {
	q := "SELECT " + feedbackColumns + " FROM course_feedback WHERE course_id = ? ORDER BY created_at DESC, id DESC"
	fbs := make([]course.Feedback, 0)
	if err := repo.db.SelectContext(ctx, &fbs, repo.db.Rebind(q), courseID); err != nil {
		return nil, errors.Wrap(err, "querying feedbacks")
	}
	for i := range fbs {
		fbs[i].CreatedAt = fbs[i].CreatedAt.UTC()
	}
	return fbs, nil
}
