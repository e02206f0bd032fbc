// Package inmemdb holds map-backed repositories, used by tests and the "inmem" database engine.
package inmemdb

import (
	"sync"

	"github.com/trezcool/elearn/core/chat"
	"github.com/trezcool/elearn/core/course"
	"github.com/trezcool/elearn/core/user"
)

type (
	membership struct {
		parentID int
		userID   int
	}

	// DB is a single lock over every table, so cascades stay consistent.
	DB struct {
		mu    sync.RWMutex
		pks   map[string]int
		users map[int]*user.User

		rooms       map[int]*chat.Room
		roomMembers map[membership]struct{}
		messages    map[int]*chat.Message

		courses       map[int]*course.Course
		collaborators map[membership]struct{}
		enrollments   map[membership]struct{}
		materials     map[int]*course.Material
		feedbacks     map[int]*course.Feedback
	}
)

func NewDB() *DB {
	return &DB{
		pks:           make(map[string]int),
		users:         make(map[int]*user.User),
		rooms:         make(map[int]*chat.Room),
		roomMembers:   make(map[membership]struct{}),
		messages:      make(map[int]*chat.Message),
		courses:       make(map[int]*course.Course),
		collaborators: make(map[membership]struct{}),
		enrollments:   make(map[membership]struct{}),
		materials:     make(map[int]*course.Material),
		feedbacks:     make(map[int]*course.Feedback),
	}
}

// nextPK must be called with mu held.
func (db *DB) nextPK(table string) int {
	db.pks[table]++
	return db.pks[table]
}

// deleteUser removes usr and everything that cascades from it; mu must be held.
func (db *DB) deleteUser(id int) {
	delete(db.users, id)
	for m := range db.roomMembers {
		if m.userID == id {
			delete(db.roomMembers, m)
		}
	}
	for msgID, msg := range db.messages {
		if msg.SenderID == id {
			delete(db.messages, msgID)
		}
	}
	for m := range db.collaborators {
		if m.userID == id {
			delete(db.collaborators, m)
		}
	}
	for m := range db.enrollments {
		if m.userID == id {
			delete(db.enrollments, m)
		}
	}
	for fbID, fb := range db.feedbacks {
		if fb.UserID == id {
			delete(db.feedbacks, fbID)
		}
	}
	for crsID, crs := range db.courses {
		if crs.CreatorID == id {
			db.deleteCourse(crsID)
		}
	}
}

// deleteCourse must be called with mu held.
func (db *DB) deleteCourse(id int) {
	delete(db.courses, id)
	for m := range db.collaborators {
		if m.parentID == id {
			delete(db.collaborators, m)
		}
	}
	for m := range db.enrollments {
		if m.parentID == id {
			delete(db.enrollments, m)
		}
	}
	for matID, mat := range db.materials {
		if mat.CourseID == id {
			delete(db.materials, matID)
		}
	}
	for fbID, fb := range db.feedbacks {
		if fb.CourseID == id {
			delete(db.feedbacks, fbID)
		}
	}
}
