package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/elearn/core/course"
)

type courseRepository struct {
	db *DB
}

var _ course.Repository = (*courseRepository)(nil)

func NewCourseRepository(db *DB) course.Repository {
	return &courseRepository{db: db}
}

func (repo *courseRepository) CheckTitleUniqueness(_ context.Context, title string) error {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	for _, crs := range repo.db.courses {
		if crs.Title == title {
			return course.ErrTitleExists
		}
	}
	return nil
}

func (repo *courseRepository) CreateCourse(_ context.Context, crs course.Course) (course.Course, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, c := range repo.db.courses {
		if c.Title == crs.Title {
			return course.Course{}, course.ErrTitleExists
		}
	}
	crs.ID = repo.db.nextPK("course")
	repo.db.courses[crs.ID] = &crs
	repo.db.collaborators[membership{crs.ID, crs.CreatorID}] = struct{}{}
	return crs, nil
}

func (repo *courseRepository) GetCourse(_ context.Context, id int) (course.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	if crs, ok := repo.db.courses[id]; ok {
		return *crs, nil
	}
	return course.Course{}, course.ErrNotFound
}

func (repo *courseRepository) QueryCourses(_ context.Context, query course.CourseQuery) ([]course.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	courses := make([]course.Course, 0, len(repo.db.courses))
	for _, crs := range repo.db.courses {
		if query.CreatorID != 0 && crs.CreatorID != query.CreatorID {
			continue
		}
		if query.CollaboratorID != 0 {
			if _, ok := repo.db.collaborators[membership{crs.ID, query.CollaboratorID}]; !ok {
				continue
			}
		}
		if query.EnrolledID != 0 {
			if _, ok := repo.db.enrollments[membership{crs.ID, query.EnrolledID}]; !ok {
				continue
			}
		}
		courses = append(courses, *crs)
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].Title < courses[j].Title })
	return courses, nil
}

func (repo *courseRepository) members(table map[membership]struct{}, courseID int) []int {
	ids := make([]int, 0)
	for m := range table {
		if m.parentID == courseID {
			ids = append(ids, m.userID)
		}
	}
	sort.Ints(ids)
	return ids
}

func (repo *courseRepository) QueryCollaborators(_ context.Context, courseID int) ([]int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	return repo.members(repo.db.collaborators, courseID), nil
}

func (repo *courseRepository) IsCollaborator(_ context.Context, courseID, userID int) (bool, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	_, ok := repo.db.collaborators[membership{courseID, userID}]
	return ok, nil
}

func (repo *courseRepository) AddEnrollment(_ context.Context, courseID, userID int) (bool, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	if _, ok := repo.db.courses[courseID]; !ok {
		return false, course.ErrNotFound
	}
	m := membership{courseID, userID}
	if _, ok := repo.db.enrollments[m]; ok {
		return false, nil
	}
	repo.db.enrollments[m] = struct{}{}
	return true, nil
}

func (repo *courseRepository) RemoveEnrollment(_ context.Context, courseID, userID int) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	delete(repo.db.enrollments, membership{courseID, userID})
	return nil
}

func (repo *courseRepository) IsEnrolled(_ context.Context, courseID, userID int) (bool, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	_, ok := repo.db.enrollments[membership{courseID, userID}]
	return ok, nil
}

func (repo *courseRepository) QueryEnrolledUsers(_ context.Context, courseID int) ([]int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	return repo.members(repo.db.enrollments, courseID), nil
}

func (repo *courseRepository) CreateMaterial(_ context.Context, mat course.Material) (course.Material, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.courses[mat.CourseID]; !ok {
		return course.Material{}, course.ErrNotFound
	}
	var maxOrder int
	for _, m := range repo.db.materials {
		if m.CourseID == mat.CourseID && m.Order > maxOrder {
			maxOrder = m.Order
		}
	}
	mat.ID = repo.db.nextPK("course_material")
	mat.Order = maxOrder + 1
	repo.db.materials[mat.ID] = &mat
	return mat, nil
}

func (repo *courseRepository) GetMaterial(_ context.Context, id int) (course.Material, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	if mat, ok := repo.db.materials[id]; ok {
		return *mat, nil
	}
	return course.Material{}, course.ErrMaterialNotFound
}

func (repo *courseRepository) QueryMaterials(_ context.Context, courseID int) ([]course.Material, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	mats := make([]course.Material, 0)
	for _, mat := range repo.db.materials {
		if mat.CourseID == courseID {
			mats = append(mats, *mat)
		}
	}
	sort.Slice(mats, func(i, j int) bool {
		if mats[i].Order == mats[j].Order {
			return mats[i].ID < mats[j].ID
		}
		return mats[i].Order < mats[j].Order
	})
	return mats, nil
}

func (repo *courseRepository) SwapMaterials(_ context.Context, a, b course.Material) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	matA, okA := repo.db.materials[a.ID]
	matB, okB := repo.db.materials[b.ID]
	if !okA || !okB {
		return course.ErrMaterialNotFound
	}
	matA.Order, matB.Order = matB.Order, matA.Order
	return nil
}

func (repo *courseRepository) DeleteMaterial(_ context.Context, id int) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	delete(repo.db.materials, id)
	return nil
}

func (repo *courseRepository) CreateFeedback(_ context.Context, fb course.Feedback) (course.Feedback, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, f := range repo.db.feedbacks {
		if f.CourseID == fb.CourseID && f.UserID == fb.UserID {
			return course.Feedback{}, course.ErrFeedbackExists
		}
	}
	fb.ID = repo.db.nextPK("course_feedback")
	repo.db.feedbacks[fb.ID] = &fb
	return fb, nil
}

func (repo *courseRepository) QueryFeedbacks(_ context.Context, courseID int) ([]course.Feedback, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	fbs := make([]course.Feedback, 0)
	for _, fb := range repo.db.feedbacks {
		if fb.CourseID == courseID {
			fbs = append(fbs, *fb)
		}
	}
	sort.Slice(fbs, func(i, j int) bool {
		if fbs[i].CreatedAt.Equal(fbs[j].CreatedAt) {
			return fbs[i].ID > fbs[j].ID
		}
		return fbs[i].CreatedAt.After(fbs[j].CreatedAt)
	})
	return fbs, nil
}
