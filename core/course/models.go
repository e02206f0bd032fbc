package course

import (
	"time"

	"github.com/trezcool/elearn/core"
)

// Move directions of a Material.
const (
	MoveUp   = "up"
	MoveDown = "down"
)

type Course struct {
	ID          int       `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	CreatorID   int       `json:"creator_id" db:"creator_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"` // UTC
}

type Material struct {
	ID        int       `json:"id" db:"id"`
	CourseID  int       `json:"course_id" db:"course_id"`
	Title     string    `json:"title" db:"title"`
	Content   string    `json:"content" db:"content"`
	Order     int       `json:"order" db:"position"`
	CreatedAt time.Time `json:"created_at" db:"created_at"` // UTC
}

type Feedback struct {
	ID        int       `json:"id" db:"id"`
	CourseID  int       `json:"course_id" db:"course_id"`
	UserID    int       `json:"user_id" db:"user_id"`
	Rating    int       `json:"rating" db:"rating"`
	Comment   string    `json:"comment" db:"comment"`
	CreatedAt time.Time `json:"created_at" db:"created_at"` // UTC
}

// Overview groups the courses a user sees on their dashboard.
type Overview struct {
	All           []Course `json:"all_courses"`
	Created       []Course `json:"created_courses"`
	Collaborating []Course `json:"collaborating_courses"`
	Enrolled      []Course `json:"enrolled_courses"`
}

// Detail is a course as seen by one user.
type Detail struct {
	Course         Course     `json:"course"`
	Collaborators  []int      `json:"collaborators"`
	IsEnrolled     bool       `json:"is_enrolled"`
	IsCollaborator bool       `json:"is_collaborator"`
	CanReview      bool       `json:"can_review"`
	Materials      []Material `json:"materials"`
	Feedbacks      []Feedback `json:"feedbacks"`
}

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Title       string `json:"title" form:"title" validate:"required,notblank,max=128"`
	Description string `json:"description" form:"description"`
}

func (nc *NewCourse) Clean() {
	nc.Title = core.CleanString(nc.Title)
	nc.Description = core.CleanString(nc.Description)
}

type NewMaterial struct {
	Title   string `json:"title" form:"title" validate:"required,notblank,max=128"`
	Content string `json:"content" form:"content"`
}

func (nm *NewMaterial) Clean() {
	nm.Title = core.CleanString(nm.Title)
	nm.Content = core.CleanString(nm.Content)
}

type NewFeedback struct {
	Rating  int    `json:"rating" form:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" form:"comment" validate:"max=1024"`
}

type (
	// CourseQuery selects courses; zero fields are ignored.
	CourseQuery struct {
		CreatorID      int
		CollaboratorID int
		EnrolledID     int
	}

	// notification template data
	enrollmentData struct {
		CourseID    int
		CourseTitle string
		StudentName string
	}

	newMaterialData struct {
		CourseID      int
		CourseTitle   string
		MaterialTitle string
	}
)
